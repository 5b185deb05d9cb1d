package llm

import (
	"log"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator gives local token-count approximations. It is used only for
// the pre-flight cost log line and the input-size budget; billing always
// uses the usage the service reports.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

func NewEstimator(model string) *Estimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model or encoding files unavailable; fall back to a
		// character heuristic.
		log.Printf("tokenizer unavailable for model %s: %v", model, err)
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

func (e *Estimator) Count(s string) int {
	if e.enc == nil {
		return (len(s) + 3) / 4
	}
	return len(e.enc.Encode(s, nil, nil))
}
