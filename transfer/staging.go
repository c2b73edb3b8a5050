package transfer

import (
	"container/list"
	"sync"

	"github.com/dave-hillier/framecore"
)

// maxPooledBlocks caps how many released staging buffers are retained
// for reuse. Blocks released beyond the cap are destroyed immediately.
const maxPooledBlocks = 16

// stagingPool recycles host-visible staging buffers between uploads.
// Acquire is first-fit by size: the pool hands back the first retained
// block large enough for the request, or allocates a fresh one.
type stagingPool struct {
	mu     sync.Mutex
	device framecore.Device
	blocks *list.List // framecore.StagingBuffer, most recently released first
	max    int
}

func newStagingPool(device framecore.Device) *stagingPool {
	return &stagingPool{
		device: device,
		blocks: list.New(),
		max:    maxPooledBlocks,
	}
}

func (p *stagingPool) acquire(size uint64) (framecore.StagingBuffer, error) {
	p.mu.Lock()
	for e := p.blocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(framecore.StagingBuffer)
		if b.Size() >= size {
			p.blocks.Remove(e)
			p.mu.Unlock()
			return b, nil
		}
	}
	p.mu.Unlock()

	b, err := p.device.NewStagingBuffer(size)
	if err != nil {
		return nil, err
	}
	framecore.Logger().Debug("staging pool miss", "size", size)
	return b, nil
}

func (p *stagingPool) release(b framecore.StagingBuffer) {
	p.mu.Lock()
	if p.blocks.Len() < p.max {
		p.blocks.PushFront(b)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	b.Destroy()
}

// pooled reports how many blocks are currently retained.
func (p *stagingPool) pooled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocks.Len()
}

func (p *stagingPool) destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := p.blocks.Front(); e != nil; e = e.Next() {
		e.Value.(framecore.StagingBuffer).Destroy()
	}
	p.blocks.Init()
}
