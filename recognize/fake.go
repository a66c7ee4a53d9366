package recognize

import (
	"context"
	"sync"
)

// Fake is a scripted Backend for tests.
type Fake struct {
	Result Result
	Err    error

	mu    sync.Mutex
	clips [][]int16
}

func (f *Fake) Transcribe(_ context.Context, clip []int16) (Result, error) {
	f.mu.Lock()
	buf := make([]int16, len(clip))
	copy(buf, clip)
	f.clips = append(f.clips, buf)
	f.mu.Unlock()
	if f.Err != nil {
		return Result{}, f.Err
	}
	return f.Result, nil
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clips)
}

func (f *Fake) LastClip() []int16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clips) == 0 {
		return nil
	}
	return f.clips[len(f.clips)-1]
}
