package scheduler

import "github.com/wyfcoding/montecarlo/xerrors"

// Partition 将 total 条路径均衡地切分给 workers 个分块：
// 每块 total/workers 条，前 total%workers 块各多 1 条；workers > total 时大小为 0 的块被丢弃。
func Partition(total, workers int) ([]int, error) {
	if total < 1 {
		return nil, xerrors.InvalidInput("path count must be >= 1, got %d", total)
	}
	if workers < 1 {
		return nil, xerrors.InvalidInput("worker count must be >= 1, got %d", workers)
	}

	base, extra := total/workers, total%workers
	chunks := make([]int, 0, min(workers, total))
	for i := range workers {
		size := base
		if i < extra {
			size++
		}
		if size == 0 {
			break
		}
		chunks = append(chunks, size)
	}
	return chunks, nil
}
