package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// SynthesizerConfig tunes the Polly-backed asset source.
type SynthesizerConfig struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
}

// SynthesizerConfigFromEnv reads TEVAL_TTS_* settings with AWS fallbacks.
func SynthesizerConfigFromEnv() SynthesizerConfig {
	return SynthesizerConfig{
		Region:  defaultString(os.Getenv("TEVAL_TTS_REGION"), defaultString(os.Getenv("AWS_REGION"), "us-east-1")),
		VoiceID: defaultString(os.Getenv("TEVAL_TTS_VOICE"), "Joanna"),
		Engine:  defaultString(os.Getenv("TEVAL_TTS_ENGINE"), "neural"),
		Timeout: 15 * time.Second,
	}
}

// Synthesizer renders asset text to PCM through Amazon Polly. Asset names
// are the utterance text itself, so scenarios stay self-contained when no
// pre-rendered directory is available. Synthesized audio is cached.
type Synthesizer struct {
	cfg SynthesizerConfig

	mu     sync.Mutex
	client synthClient
	cache  map[string][]byte
}

// NewSynthesizer returns a Polly-backed source using ambient AWS credentials.
func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	return NewSynthesizerWithClient(cfg, nil)
}

// NewSynthesizerWithClient injects the Polly client, for tests.
func NewSynthesizerWithClient(cfg SynthesizerConfig, client synthClient) *Synthesizer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Synthesizer{cfg: cfg, client: client, cache: make(map[string][]byte)}
}

// ReadPCM implements Source.
func (s *Synthesizer) ReadPCM(ctx context.Context, name string) ([]byte, error) {
	text := strings.TrimSpace(name)
	if text == "" {
		return nil, fmt.Errorf("asset text is required")
	}

	s.mu.Lock()
	cached, ok := s.cache[text]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	client, err := s.resolveClient()
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(s.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}
	sampleRate := "16000"

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(callCtx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   &sampleRate,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return nil, classifySynthError(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, fmt.Errorf("synthesize asset: empty audio stream")
	}
	defer output.AudioStream.Close()

	pcm, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("synthesize asset: zero-length audio")
	}

	s.mu.Lock()
	s.cache[text] = pcm
	s.mu.Unlock()
	return pcm, nil
}

// classifySynthError keeps service error codes visible so a failed run
// explains whether the synthesis request itself was bad or the service
// was unavailable.
func classifySynthError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("synthesize asset: %w", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException":
			return fmt.Errorf("synthesize asset: service throttled: %w", err)
		case "InvalidSsmlException", "TextLengthExceededException", "InvalidSampleRateException":
			return fmt.Errorf("synthesize asset: rejected request (%s): %w", apiErr.ErrorCode(), err)
		default:
			return fmt.Errorf("synthesize asset: service error (%s): %w", apiErr.ErrorCode(), err)
		}
	}

	return fmt.Errorf("synthesize asset: %w", err)
}

func (s *Synthesizer) resolveClient() (synthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}

func defaultString(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
