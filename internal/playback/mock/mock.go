// Package mock provides a test double with the same surface as
// playback.Player.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/playback"
)

// Player records clips and pretends to play each one for Duration.
type Player struct {
	// Duration is how long each clip "plays". Zero returns immediately.
	Duration time.Duration

	// PlayErr, if non-nil, is returned by Play without playing.
	PlayErr error

	// Listener, if set, is notified like the real player does.
	Listener playback.Listener

	// Started, if non-nil, receives every clip as it starts. Sends are
	// non-blocking.
	Started chan playback.Clip

	mu      sync.Mutex
	clips   []playback.Clip
	stop    chan struct{}
	playing bool
	stops   int
}

// Play records clip and blocks for Duration, until Stop, or until ctx ends.
func (p *Player) Play(ctx context.Context, clip playback.Clip) error {
	p.mu.Lock()
	p.clips = append(p.clips, clip)
	if p.PlayErr != nil {
		p.mu.Unlock()
		return p.PlayErr
	}
	if p.stop != nil {
		close(p.stop)
	}
	stop := make(chan struct{})
	p.stop = stop
	p.playing = true
	l := p.Listener
	p.mu.Unlock()

	if l != nil {
		l.OnPlaybackStart()
	}
	if p.Started != nil {
		select {
		case p.Started <- clip:
		default:
		}
	}

	var err error
	timer := time.NewTimer(p.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-stop:
		err = playback.ErrInterrupted
	case <-ctx.Done():
		err = ctx.Err()
	}

	p.mu.Lock()
	if p.stop == stop {
		p.stop = nil
		p.playing = false
	}
	p.mu.Unlock()
	if l != nil {
		l.OnPlaybackEnd(err != nil)
	}
	return err
}

// Stop interrupts the clip that is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
		p.playing = false
	}
}

// Playing reports whether a clip is in progress.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Clips returns a copy of the clips passed to Play.
func (p *Player) Clips() []playback.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]playback.Clip(nil), p.clips...)
}

// Stops returns how often Stop was called.
func (p *Player) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}
