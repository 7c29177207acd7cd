package fileops

import "fmt"

type ItemResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BatchResult reports a multi-item operation. Success is true when at least
// one item succeeded.
type BatchResult struct {
	Success      bool         `json:"success"`
	SuccessCount int          `json:"successCount"`
	FailureCount int          `json:"failureCount"`
	Items        []ItemResult `json:"items"`
	Message      string       `json:"message"`
}

func (b *BatchResult) add(name string, ok bool, msg string) {
	b.Items = append(b.Items, ItemResult{Name: name, Success: ok, Message: msg})
	if ok {
		b.SuccessCount++
	} else {
		b.FailureCount++
	}
}

// finish fills Success and Message. verb is the past tense, e.g. "Copied".
func (b *BatchResult) finish(verb, infinitive string) BatchResult {
	if b.Items == nil {
		b.Items = []ItemResult{}
	}
	total := b.SuccessCount + b.FailureCount
	b.Success = b.SuccessCount > 0
	switch {
	case b.FailureCount == 0:
		b.Message = fmt.Sprintf("%s %d item(s) successfully", verb, b.SuccessCount)
	case b.SuccessCount == 0:
		b.Message = fmt.Sprintf("Failed to %s all %d item(s)", infinitive, total)
	default:
		b.Message = fmt.Sprintf("%s %d of %d item(s). %d failed.", verb, b.SuccessCount, total, b.FailureCount)
	}
	return *b
}
