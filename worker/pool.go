package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"
	"github.com/wyfcoding/montecarlo/metrics"
)

var (
	ErrPoolClosed  = errors.New("worker pool is closed")
	ErrPoolFull    = errors.New("worker pool is full")
	ErrTaskTimeout = errors.New("task submission timeout")
)

// Task 是 worker 执行的任务函数，ctx 在池停止时取消。
type Task func(ctx context.Context)

// Pool 是一个常驻的 worker 池。
// 由调用方在会话开始时创建一次、跨多次定价调用复用，并在会话结束时显式 Stop。
type Pool struct {
	tasks   chan Task
	quit    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	options *poolOptions
	metrics *workerMetrics
	wg      conc.WaitGroup
	closed  atomic.Bool
	active  atomic.Int32 // 当前存活的 worker 数量
	busy    atomic.Int32 // 正在执行任务的 worker 数量
}

type workerMetrics struct {
	activeWorkers prometheus.Gauge
	busyWorkers   prometheus.Gauge
	queueLength   prometheus.Gauge
}

type poolOptions struct {
	Logger       *slog.Logger
	PanicHandler func(any)
	Metrics      *metrics.Metrics
	Name         string
	Size         int
	QueueSize    int
}

// Option 定义配置选项。
type Option func(*poolOptions)

// WithName 设置池名称。
func WithName(name string) Option {
	return func(o *poolOptions) {
		o.Name = name
	}
}

// WithSize 设置 worker 数量。
func WithSize(size int) Option {
	return func(o *poolOptions) {
		o.Size = size
	}
}

// WithQueueSize 设置任务队列大小。
func WithQueueSize(size int) Option {
	return func(o *poolOptions) {
		o.QueueSize = size
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(o *poolOptions) {
		o.Logger = logger
	}
}

// WithPanicHandler 设置 Panic 处理回调。
func WithPanicHandler(handler func(any)) Option {
	return func(o *poolOptions) {
		o.PanicHandler = handler
	}
}

// WithMetrics 注入指标采集器.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *poolOptions) {
		o.Metrics = m
	}
}

// NewPool 创建并启动一个 worker 池。
func NewPool(opts ...Option) *Pool {
	options := &poolOptions{
		Name:      "default-pool",
		Size:      8,
		QueueSize: 64,
		Logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Size < 1 {
		options.Size = 1
	}
	if options.QueueSize < 0 {
		options.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:   make(chan Task, options.QueueSize),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		options: options,
	}

	if options.Metrics != nil {
		labels := prometheus.Labels{"pool": options.Name}
		p.metrics = &workerMetrics{
			activeWorkers: options.Metrics.NewGauge(prometheus.GaugeOpts{
				Name:        "worker_pool_active_workers",
				Help:        "Number of live workers in the pool",
				ConstLabels: labels,
			}),
			busyWorkers: options.Metrics.NewGauge(prometheus.GaugeOpts{
				Name:        "worker_pool_busy_workers",
				Help:        "Number of workers currently executing a task",
				ConstLabels: labels,
			}),
			queueLength: options.Metrics.NewGauge(prometheus.GaugeOpts{
				Name:        "worker_pool_queue_length",
				Help:        "Current length of the task queue",
				ConstLabels: labels,
			}),
		}
	}

	p.start()
	return p
}

func (p *Pool) start() {
	p.options.Logger.Info("Worker pool starting", "name", p.options.Name, "size", p.options.Size)
	for range p.options.Size {
		p.active.Add(1)
		if p.metrics != nil {
			p.metrics.activeWorkers.Inc()
		}
		p.wg.Go(func() {
			defer func() {
				p.active.Add(-1)
				if p.metrics != nil {
					p.metrics.activeWorkers.Dec()
				}
			}()
			p.runWorker()
		})
	}
}

func (p *Pool) runWorker() {
	for {
		select {
		case task := <-p.tasks:
			if p.metrics != nil {
				p.metrics.queueLength.Set(float64(len(p.tasks)))
			}
			p.executeTask(task)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) executeTask(task Task) {
	p.busy.Add(1)
	if p.metrics != nil {
		p.metrics.busyWorkers.Inc()
	}
	defer func() {
		p.busy.Add(-1)
		if p.metrics != nil {
			p.metrics.busyWorkers.Dec()
		}
		if r := recover(); r != nil {
			if p.options.PanicHandler != nil {
				p.options.PanicHandler(r)
			} else {
				p.options.Logger.Error("Worker task panic recovered", "pool", p.options.Name, "panic", r)
			}
		}
	}()
	task(p.ctx)
}

// Size 返回 worker 数量。
func (p *Pool) Size() int {
	return p.options.Size
}

// Name 返回池名称。
func (p *Pool) Name() string {
	return p.options.Name
}

// Active 返回当前存活的 worker 数量。
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Busy 返回正在执行任务的 worker 数量。
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Done 在池停止时关闭。
func (p *Pool) Done() <-chan struct{} {
	return p.quit
}

// Closed 报告池是否已停止。
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// Submit 提交一个任务。队列已满时阻塞，直到有空位、ctx 结束或池被关闭。
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		p.observeQueue()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

// SubmitWithTimeout 提交一个带超时的任务。
func (p *Pool) SubmitWithTimeout(task Task, timeout time.Duration) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.tasks <- task:
		p.observeQueue()
		return nil
	case <-timer.C:
		return ErrTaskTimeout
	case <-p.quit:
		return ErrPoolClosed
	}
}

// TrySubmit 尝试提交一个任务。如果池已满，立即返回 ErrPoolFull。
func (p *Pool) TrySubmit(task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		p.observeQueue()
		return nil
	default:
		return ErrPoolFull
	}
}

func (p *Pool) observeQueue() {
	if p.metrics != nil {
		p.metrics.queueLength.Set(float64(len(p.tasks)))
	}
}

// Stop 停止 worker 池，等待正在执行的任务完成；队列中尚未执行的任务被丢弃。
// 重复调用是安全的。
func (p *Pool) Stop() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.quit) // 通知 worker 退出
	p.cancel()
	p.wg.Wait() // 等待所有 worker 退出
	p.options.Logger.Info("Worker pool stopped", "name", p.options.Name)
}
