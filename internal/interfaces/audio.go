package interfaces

import "dreamweaver/internal/models"

// AmbientPlayer управляет фоновой музыкой.
type AmbientPlayer interface {
	Play(track string)
	Stop()
	State() models.AudioState
}
