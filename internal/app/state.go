package app

// AppState tracks which screen the model is showing.
type AppState int

const (
	Running AppState = iota
	Finished
	Exiting
)
