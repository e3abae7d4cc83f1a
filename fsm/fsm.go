// Package fsm 提供通用的有限状态机 (Finite State Machine) 基础设施.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrInvalidTransition 无效的状态转移.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrHandlerFailed 处理器执行失败.
	ErrHandlerFailed = errors.New("fsm handler failed")
)

// Handler 定义状态流转时执行的回调函数.
type Handler[S comparable] func(ctx context.Context, from, to S) error

// Definition 状态转移表，可在多个 Machine 之间共享，构建完成后只读.
type Definition[S comparable, E comparable] struct {
	transitions map[S]map[E]S
	handlers    map[S]map[S]Handler[S]
}

// NewDefinition 创建空的状态转移表.
func NewDefinition[S comparable, E comparable]() *Definition[S, E] {
	return &Definition[S, E]{
		transitions: make(map[S]map[E]S),
		handlers:    make(map[S]map[S]Handler[S]),
	}
}

// AddTransition 添加一条状态转移规则.
func (d *Definition[S, E]) AddTransition(from S, event E, to S) *Definition[S, E] {
	if _, ok := d.transitions[from]; !ok {
		d.transitions[from] = make(map[E]S)
	}
	d.transitions[from][event] = to
	return d
}

// AddHandler 为特定的状态转移注册回调动作.
func (d *Definition[S, E]) AddHandler(from, to S, handler Handler[S]) *Definition[S, E] {
	if _, ok := d.handlers[from]; !ok {
		d.handlers[from] = make(map[S]Handler[S])
	}
	d.handlers[from][to] = handler
	return d
}

// Machine 持有一个状态机实例的当前状态与历史.
type Machine[S comparable, E comparable] struct {
	def     *Definition[S, E]
	current S
	history []S
	logger  *slog.Logger
	mu      sync.RWMutex
}

// NewMachine 基于转移表创建一个状态机实例.
func NewMachine[S comparable, E comparable](def *Definition[S, E], initial S, logger *slog.Logger) *Machine[S, E] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine[S, E]{
		def:     def,
		current: initial,
		history: []S{initial},
		logger:  logger,
	}
}

// Current 获取状态机当前所处的状态.
func (m *Machine[S, E]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current
}

// History 返回经历过的全部状态 (含初始状态).
func (m *Machine[S, E]) History() []S {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]S, len(m.history))
	copy(out, m.history)
	return out
}

// Can 报告在当前状态下事件是否可触发.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.def.transitions[m.current][event]
	return ok
}

// Trigger 触发一个事件.
func (m *Machine[S, E]) Trigger(ctx context.Context, event E) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	to, ok := m.def.transitions[from][event]
	if !ok {
		return fmt.Errorf("%w: event %v for state %v", ErrInvalidTransition, event, from)
	}

	if handler, okH := m.def.handlers[from][to]; okH {
		if err := handler(ctx, from, to); err != nil {
			return fmt.Errorf("%w (%v -> %v): %w", ErrHandlerFailed, from, to, err)
		}
	}

	m.current = to
	m.history = append(m.history, to)

	m.logger.DebugContext(ctx, "fsm state transitioned",
		"from", from,
		"to", to,
		"event", event,
	)

	return nil
}
