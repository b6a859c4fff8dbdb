package bench

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultProbeEndpoint = "http://localhost:8000/v1/completions"
	defaultProbeTimeout  = 5 * time.Minute
	defaultNumWords      = 12000
	defaultMaxTokens     = 64

	// responseTextLimit keeps completion text log-friendly.
	responseTextLimit = 80
)

// sampleWords is the fixed vocabulary probe prompts are built from.
var sampleWords = []string{
	"the", "be", "to", "of", "and", "a", "in", "that", "have", "I", "it", "for",
	"not", "on", "with", "he", "as", "you", "do", "at", "this", "but", "his",
	"by", "from", "they", "we", "say", "her", "she", "or", "an", "will", "my",
	"one", "all", "would", "there", "their", "what", "so", "up", "out", "if",
	"about", "who", "get", "which", "go", "me", "when", "make", "can", "like",
	"time", "no", "just", "him", "know", "take", "person", "into", "year",
	"your", "good", "some", "could", "them", "see", "other", "than", "then",
	"now", "look", "only", "come", "its", "over", "think", "also", "back",
	"after", "use", "two", "how", "our", "work", "first", "well", "way",
	"even", "new", "want", "because", "any", "these", "give", "day", "most", "us",
}

// GeneratePrompt returns n words sampled with replacement from the fixed
// vocabulary, space separated.
func GeneratePrompt(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = sampleWords[rand.Intn(len(sampleWords))]
	}
	return strings.Join(words, " ")
}

// completionRequest is the OpenAI-style completions payload. Streaming is
// always off so one response carries the whole completion.
type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Stream    bool   `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// ProbeOptions configures a Probe. Zero values take defaults; Model has no
// default and must be set by the caller.
type ProbeOptions struct {
	Endpoint    string
	Model       string
	NumWords    int
	MaxTokens   int
	Count       int
	Concurrency int
	Out         io.Writer
	Logger      zerolog.Logger
	Client      *http.Client
}

// Probe sends completion requests with a synthetic prompt and reports
// per-request timing. It is the smoke test run before committing to a full
// sweep.
type Probe struct {
	opts ProbeOptions
}

// NewProbe fills defaults and builds a Probe.
func NewProbe(opts ProbeOptions) *Probe {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultProbeEndpoint
	}
	if opts.NumWords <= 0 {
		opts.NumWords = defaultNumWords
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Client == nil {
		opts.Client = NewHTTPClient(defaultProbeTimeout)
	}
	return &Probe{opts: opts}
}

// Run issues Count requests with at most Concurrency in flight, printing
// one outcome line per request and a final summary. It returns an error
// when any request failed.
func (p *Probe) Run(ctx context.Context) error {
	if p.opts.Model == "" {
		return fmt.Errorf("probe model is required")
	}

	prompt := GeneratePrompt(p.opts.NumWords)
	p.opts.Logger.Info().
		Str("endpoint", p.opts.Endpoint).
		Str("model", p.opts.Model).
		Int("words", p.opts.NumWords).
		Int("max_tokens", p.opts.MaxTokens).
		Int("count", p.opts.Count).
		Int("concurrency", p.opts.Concurrency).
		Msg("Sending probe requests")

	var (
		mu        sync.Mutex
		completed int
		failed    int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i := 1; i <= p.opts.Count; i++ {
		i := i
		g.Go(func() error {
			text, duration, err := p.request(ctx, prompt)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				fmt.Fprintf(p.opts.Out, "request %d/%d failed after %.3fs: %v\n",
					i, p.opts.Count, duration.Seconds(), err)
				return nil
			}
			completed++
			fmt.Fprintf(p.opts.Out, "request %d/%d ok in %.3fs: %q\n",
				i, p.opts.Count, duration.Seconds(), text)
			return nil
		})
	}
	// Request failures are reported per line, never propagated, so waiting
	// cannot fail.
	_ = g.Wait()

	fmt.Fprintf(p.opts.Out, "probe finished: %d completed, %d failed\n", completed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d probe requests failed", failed, p.opts.Count)
	}
	return nil
}

// request sends one completion request and returns the truncated response
// text along with the wall-clock duration of the call.
func (p *Probe) request(ctx context.Context, prompt string) (string, time.Duration, error) {
	payload, err := jsoniter.Marshal(completionRequest{
		Model:     p.opts.Model,
		Prompt:    prompt,
		MaxTokens: p.opts.MaxTokens,
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.opts.Client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return "", duration, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", duration, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", duration, fmt.Errorf("status %s: %s", resp.Status, truncate(string(body), 200))
	}

	var completion completionResponse
	if err := jsoniter.Unmarshal(body, &completion); err != nil {
		return "", duration, fmt.Errorf("decode response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", duration, fmt.Errorf("response has no choices")
	}
	return truncate(completion.Choices[0].Text, responseTextLimit), duration, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
