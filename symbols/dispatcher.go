package symbols

import (
	"runtime"
	"sync"
)

//GPUThreadDispatcher GPU线程任务队列
//
// Run owns one OS thread and executes queued tasks in FIFO order. The queue
// is unbounded so InvokeAsync never blocks, even from the GPU thread itself.
type GPUThreadDispatcher struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	stopped bool
	done    chan struct{}
}

//NewGPUThreadDispatcher 创建调度器
func NewGPUThreadDispatcher() *GPUThreadDispatcher {
	return &GPUThreadDispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run executes tasks until Close is called and the queue is drained.
func (d *GPUThreadDispatcher) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(d.done)
	for {
		d.mu.Lock()
		tasks := d.queue
		d.queue = nil
		if len(tasks) == 0 && d.closed {
			d.stopped = true
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		if len(tasks) == 0 {
			<-d.wake
			continue
		}
		for _, task := range tasks {
			task()
		}
	}
}

//InvokeAsync 异步执行
//
// Accepted until Run has drained the queue after Close, so releases queued
// during shutdown still run. Posting after that panics: the task would never
// run and whatever it releases would leak.
func (d *GPUThreadDispatcher) InvokeAsync(task func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		panic("gpu dispatcher stopped, task would never run")
	}
	d.queue = append(d.queue, task)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// InvokeSync queues task and waits for it to run. Must not be called from
// the GPU thread. Returns false if the dispatcher is closed.
func (d *GPUThreadDispatcher) InvokeSync(task func()) bool {
	ran := make(chan struct{})
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, func() {
		defer close(ran)
		task()
	})
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-ran
	return true
}

// Close stops InvokeSync. Queued tasks, and tasks posted with InvokeAsync
// until the queue is drained, still run. Owners release their resources
// before Close.
func (d *GPUThreadDispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

//Done closed when Run returns
func (d *GPUThreadDispatcher) Done() <-chan struct{} {
	return d.done
}
