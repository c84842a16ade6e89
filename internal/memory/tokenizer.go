package memory

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer estimates how many model tokens a piece of text costs.
type Tokenizer interface {
	Count(text string) int
	Name() string
}

// WordTokenizer estimates 1.3 tokens per whitespace-separated word.
type WordTokenizer struct{}

func (WordTokenizer) Name() string { return "words" }

func (WordTokenizer) Count(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.3)
}

var (
	tiktokenOnce sync.Once
	tiktokenEnc  *tiktoken.Tiktoken
)

// loadTiktoken fetches the cl100k_base vocabulary on first use. It needs
// network access or a warm ~/.tiktoken cache; on failure tiktokenEnc stays nil.
func loadTiktoken() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return
	}
	tiktokenEnc = enc
}

// TiktokenTokenizer counts with the cl100k_base encoding and falls back to
// the word estimate when the encoder cannot be loaded.
type TiktokenTokenizer struct{}

func (TiktokenTokenizer) Name() string { return "tiktoken" }

func (TiktokenTokenizer) Count(text string) int {
	tiktokenOnce.Do(loadTiktoken)
	if tiktokenEnc == nil {
		return WordTokenizer{}.Count(text)
	}
	return len(tiktokenEnc.EncodeOrdinary(text))
}

// NewTokenizer returns the tokenizer named by the memory.tokenizer setting.
// Unknown names get the word estimate.
func NewTokenizer(name string) Tokenizer {
	if strings.EqualFold(strings.TrimSpace(name), "tiktoken") {
		return TiktokenTokenizer{}
	}
	return WordTokenizer{}
}
