package interfaces

import "context"

// SentimentSource scores recent news for an instrument in [0,1]; 0.5 is neutral.
type SentimentSource interface {
	Score(ctx context.Context, query string) (float64, error)
}
