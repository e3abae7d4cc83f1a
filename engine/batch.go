package engine

import (
	"context"

	"github.com/wyfcoding/montecarlo/option"
	"github.com/wyfcoding/montecarlo/rng"
	"github.com/wyfcoding/montecarlo/xerrors"
)

// BatchDraws 两次取消检查之间最多消费的正态抽样数。
const BatchDraws = 1 << 18

// BatchPaths 返回每批模拟的路径数，按每条路径 M 个抽样折算，至少为 1。
func BatchPaths(steps int) int {
	return max(1, BatchDraws/max(steps, 1))
}

// SimulateContext 将 dst 切成若干批依次交给 e.SimulateInto，每批之前检查 ctx。
// 各批按路径顺序连续消费 src，结果与一次性调用 SimulateInto 逐位一致。
// ctx 结束时剩余路径被丢弃，返回 CallCanceled 或 CallAbandoned。
func SimulateContext(ctx context.Context, e PathEngine, dst []float64, p option.Params, src rng.Normal) error {
	if err := checkInto(dst, p); err != nil {
		return err
	}
	batch := BatchPaths(p.Steps)
	for start := 0; start < len(dst); start += batch {
		if err := ctx.Err(); err != nil {
			return xerrors.Abandoned(err).WithContext("simulated_paths", start)
		}
		end := min(start+batch, len(dst))
		if err := e.SimulateInto(dst[start:end], p, src); err != nil {
			return err
		}
	}
	return nil
}
