package model

// Game is the display name of a telemetry source.
type Game string

const (
	GameACC  Game = "Assetto Corsa Competizione"
	GameLMU  Game = "Le Mans Ultimate"
	GameAMS2 Game = "Automobilista 2"
	GameR3E  Game = "RaceRoom Racing Experience"
	GameDemo Game = "Demo Mode"
)

// SessionUnknown is reported when a source's session code has no mapping.
const SessionUnknown = "Unknown"

// SupportedGames lists the simulators known to the service, in display order.
func SupportedGames() []Game {
	return []Game{GameACC, GameLMU, GameAMS2, GameR3E}
}
