package audio

import (
	"sync"

	"go.uber.org/zap"

	"dreamweaver/internal/interfaces"
	"dreamweaver/internal/models"
)

// Громкость и зацикливание фоновой музыки, как в браузерном плеере.
const (
	DefaultVolume = 0.3
	DefaultLoop   = true
)

// Player хранит состояние фоновой музыки. Сервер сам ничего не играет,
// клиенты получают состояние в снимке сессии и воспроизводят трек у себя.
type Player struct {
	mu     sync.RWMutex
	state  models.AudioState
	logger *zap.Logger
}

var _ interfaces.AmbientPlayer = (*Player)(nil)

// NewPlayer создает остановленный плеер.
func NewPlayer(logger *zap.Logger) *Player {
	return &Player{
		state:  models.AudioState{Volume: DefaultVolume, Loop: DefaultLoop},
		logger: logger.Named("AmbientPlayer"),
	}
}

// Play переключает трек и включает воспроизведение.
func (p *Player) Play(track string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if track == "" {
		p.logger.Warn("Play called with empty track, ignoring")
		return
	}
	p.state.Track = track
	p.state.Playing = true
	p.logger.Debug("Ambient track playing", zap.String("track", track))
}

// Stop ставит на паузу, трек запоминается.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.Playing {
		return
	}
	p.state.Playing = false
	p.logger.Debug("Ambient track stopped", zap.String("track", p.state.Track))
}

// State возвращает текущее состояние.
func (p *Player) State() models.AudioState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}
