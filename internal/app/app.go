// Package app wires the configured collaborators into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	grpcapi "ai-stream-fusion-service/internal/api/grpc"
	"ai-stream-fusion-service/internal/artifact"
	"ai-stream-fusion-service/internal/config"
	"ai-stream-fusion-service/internal/debuglog"
	"ai-stream-fusion-service/internal/events"
	apphttp "ai-stream-fusion-service/internal/http"
	"ai-stream-fusion-service/internal/models"
	"ai-stream-fusion-service/internal/observability"
	"ai-stream-fusion-service/internal/observability/logging"
	"ai-stream-fusion-service/internal/observability/metrics"
	"ai-stream-fusion-service/internal/queue"
	"ai-stream-fusion-service/internal/service/assistant"
	"ai-stream-fusion-service/internal/service/coordinator"
	"ai-stream-fusion-service/internal/service/sampler"
	"ai-stream-fusion-service/internal/service/session"
	"ai-stream-fusion-service/internal/service/stt"
	"ai-stream-fusion-service/internal/service/stt/deepgram"
	sttgoogle "ai-stream-fusion-service/internal/service/stt/google"
	sttmock "ai-stream-fusion-service/internal/service/stt/mock"
	"ai-stream-fusion-service/internal/service/tts"
	"ai-stream-fusion-service/internal/state"
	"ai-stream-fusion-service/internal/video"
	"ai-stream-fusion-service/internal/vision"
	"ai-stream-fusion-service/internal/vision/azure"
	visiongoogle "ai-stream-fusion-service/internal/vision/google"
	visionmock "ai-stream-fusion-service/internal/vision/mock"
)

const shutdownTimeout = 5 * time.Second

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	SessionID   string

	clock      clock.Clock
	frames     *video.ChanSource
	mjpeg      *video.MJPEGSource
	writer     *artifact.Writer
	supervisor *session.Supervisor
	coord      *coordinator.Coordinator
	publisher  *events.Publisher
	grpc       *grpcapi.Server
	http       *observability.Server
}

// New builds every collaborator named by cfg. Nothing is started until Run.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{
		Cfg:       cfg,
		SessionID: uuid.NewString(),
		clock:     clock.New(),
	}
	a.Logger = logging.WithSession(a.SessionID).With().
		Str("component", "application").
		Logger()

	m := metrics.DefaultMetrics

	source, err := a.newVideoSource()
	if err != nil {
		return nil, err
	}

	analyzer, err := newAnalyzer(ctx, cfg.Vision)
	if err != nil {
		return nil, err
	}

	factory, err := newSTTFactory(cfg)
	if err != nil {
		return nil, err
	}

	writer, err := artifact.Open(cfg.Output.Dir)
	if err != nil {
		return nil, err
	}
	a.writer = writer

	speechQ := queue.New[models.StreamEvent](cfg.Service.QueueCapacity)
	debugQ := queue.New[string](cfg.Service.QueueCapacity)
	store := state.New(a.clock.Now())
	debugLog := debuglog.New(a.clock)
	display := video.NewLatestFrame()

	a.publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicOCR:     cfg.Kafka.TopicOCR,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	})

	supCfg := session.DefaultConfig()
	supCfg.MaxRestarts = cfg.STT.MaxRestarts
	if cfg.STT.RestartBackoff > 0 {
		supCfg.MinBackoff = cfg.STT.RestartBackoff
	}
	a.supervisor = session.New(factory, speechQ, debugQ, a.clock, supCfg, m)

	// The sampler runs on the coordinator goroutine, so it logs straight
	// into the coordinator rather than through the debug queue.
	var coord *coordinator.Coordinator
	smpCfg := sampler.DefaultConfig()
	smpCfg.Interval = cfg.Sampling.Interval
	smpCfg.FrameTimeout = cfg.Sampling.FrameTimeout
	smpCfg.SessionID = a.SessionID
	smp := sampler.New(smpCfg, sampler.Deps{
		Source:    source,
		Display:   display,
		Analyzer:  analyzer,
		Store:     store,
		Writer:    writer,
		Publisher: a.publisher,
		Debug:     func(msg string) { coord.Debug(msg) },
		Clock:     a.clock,
		Metrics:   m,
	})

	a.grpc = grpcapi.NewServer(m)

	coord = coordinator.New(coordinator.Deps{
		Speech:     speechQ,
		Debug:      debugQ,
		Supervisor: a.supervisor,
		Sampler:    smp,
		Stream:     source,
		Store:      store,
		Log:        debugLog,
		Writer:     writer,
		Publisher:  a.publisher,
		Health:     a.grpc,
		Clock:      a.clock,
		Metrics:    m,
		SessionID:  a.SessionID,
	})
	a.coord = coord

	routerDeps := apphttp.Deps{
		State:  coord,
		Frames: display,
		Ready:  func() bool { return coord.Snapshot().Tick > 0 },
	}
	asst, err := NewAssistant(cfg)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	if asst != nil {
		routerDeps.Assistant = asst
	}
	a.http = observability.NewServer(cfg.Service.HTTPAddr, apphttp.NewRouter(routerDeps))

	a.Logger.Info().
		Str("videoProvider", cfg.Video.Provider).
		Str("visionProvider", cfg.Vision.Provider).
		Str("sttProvider", cfg.STT.Provider).
		Bool("kafkaEnabled", cfg.Kafka.Enabled).
		Bool("assistantEnabled", asst != nil).
		Msg("AI stream fusion service application created")
	if cfg.Vision.Provider == config.ProviderMock || cfg.STT.Provider == config.ProviderMock {
		a.Logger.Warn().Msg("Mock providers selected: artifacts will contain scripted text")
	}
	return a, nil
}

// Snapshot returns the coordinator's latest published state.
func (a *Application) Snapshot() coordinator.Snapshot {
	return a.coord.Snapshot()
}

// HTTPAddr returns the bound HTTP address once Run has started listening.
func (a *Application) HTTPAddr() string {
	return a.http.Addr()
}

func (a *Application) newVideoSource() (video.Source, error) {
	cfg := a.Cfg.Video
	switch cfg.Provider {
	case config.ProviderSynthetic:
		a.frames = video.NewChanSource(video.DefaultBufferSize, a.clock)
		return a.frames, nil
	case config.ProviderMJPEG:
		a.mjpeg = video.NewMJPEGSource(video.MJPEGConfig{URL: cfg.URL, Clock: a.clock})
		return a.mjpeg, nil
	default:
		return nil, fmt.Errorf("unknown video provider %q", cfg.Provider)
	}
}

func newAnalyzer(ctx context.Context, cfg config.VisionConfig) (vision.Analyzer, error) {
	switch cfg.Provider {
	case config.ProviderMock:
		return visionmock.New(), nil
	case config.ProviderAzure:
		return azure.New(azure.Config{Endpoint: cfg.Endpoint, Key: cfg.Key})
	case config.ProviderGoogle:
		return visiongoogle.NewWithAPIKey(ctx, cfg.Key)
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
}

func newSTTFactory(cfg *config.Config) (stt.Factory, error) {
	switch cfg.STT.Provider {
	case config.ProviderMock:
		return sttmock.NewFactory(sttmock.Config{Loop: true}), nil
	case config.ProviderGoogle:
		g := sttgoogle.DefaultConfig()
		g.LanguageCode = cfg.STT.LanguageCode
		g.SampleRateHz = int32(cfg.STT.SampleRateHz)
		g.InterimResults = cfg.STT.InterimResults
		g.AudioEncoding = cfg.STT.AudioEncoding
		return sttgoogle.NewFactory(g, stt.OpenAudio(cfg.STT.AudioSource)), nil
	case config.ProviderDeepgram:
		d := deepgram.DefaultConfig()
		d.APIKey = cfg.Deepgram.APIKey
		if cfg.Deepgram.Endpoint != "" {
			d.Endpoint = cfg.Deepgram.Endpoint
		}
		if cfg.Deepgram.Model != "" {
			d.Model = cfg.Deepgram.Model
		}
		d.Language = cfg.STT.LanguageCode
		d.Encoding = strings.ToLower(cfg.STT.AudioEncoding)
		d.SampleRateHz = cfg.STT.SampleRateHz
		return deepgram.NewFactory(d, stt.OpenAudio(cfg.STT.AudioSource)), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STT.Provider)
	}
}

// NewAssistant builds the question answering assistant over the artifacts in
// cfg.Output.Dir. It returns nil when no chat backend is configured.
func NewAssistant(cfg *config.Config) (*assistant.Assistant, error) {
	if !cfg.Chat.Enabled() {
		return nil, nil
	}

	key := cfg.Chat.OpenAIKey
	if cfg.Chat.AzureEndpoint != "" {
		key = cfg.Chat.AzureKey
	}
	completer, err := assistant.NewOpenAI(assistant.OpenAIConfig{
		APIKey:          key,
		Model:           cfg.Chat.Model,
		BaseURL:         cfg.Chat.BaseURL,
		AzureEndpoint:   cfg.Chat.AzureEndpoint,
		AzureDeployment: cfg.Chat.AzureDeployment,
		AzureAPIVersion: cfg.Chat.AzureAPIVersion,
	})
	if err != nil {
		return nil, err
	}

	var synth assistant.Synthesizer
	if cfg.TTS.Enabled() {
		el, err := tts.New(tts.Config{
			APIKey:  cfg.TTS.APIKey,
			VoiceID: cfg.TTS.VoiceID,
			ModelID: cfg.TTS.ModelID,
		})
		if err != nil {
			return nil, err
		}
		synth = el
	}

	return assistant.New(assistant.Config{
		OCRPath: filepath.Join(cfg.Output.Dir, artifact.OCRFileName),
		STTPath: filepath.Join(cfg.Output.Dir, artifact.STTFileName),
	}, completer, synth, nil), nil
}

// Run starts the listeners, the video producer and the speech session, then
// runs the coordinator loop until ctx is cancelled. A session that cannot be
// started at all is fatal.
func (a *Application) Run(ctx context.Context) error {
	a.StartupTime = a.clock.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Msg("AI stream fusion service starting")

	if err := a.http.Start(); err != nil {
		return a.shutdown(fmt.Errorf("start http server: %w", err))
	}

	lis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return a.shutdown(fmt.Errorf("listen grpc on :%s: %w", a.Cfg.Service.GRPCPort, err))
	}
	go func() {
		a.Logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server started")
		if err := a.grpc.Serve(lis); err != nil {
			a.Logger.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runVideo(runCtx)
	}()

	if err := a.supervisor.Start(runCtx); err != nil {
		cancel()
		wg.Wait()
		return a.shutdown(fmt.Errorf("start speech recognition: %w", err))
	}

	err = a.coord.Run(runCtx)
	cancel()
	wg.Wait()
	return a.shutdown(err)
}

func (a *Application) runVideo(ctx context.Context) {
	var err error
	switch {
	case a.mjpeg != nil:
		err = a.mjpeg.Run(ctx)
	case a.frames != nil:
		err = video.RunSynthetic(ctx, a.frames, a.Cfg.Video.FPS, a.clock)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("Video source stopped")
	}
}

// shutdown releases every resource, aggregating failures with cause.
func (a *Application) shutdown(cause error) error {
	a.Logger.Info().Msg("AI stream fusion service shutting down")

	var result *multierror.Error
	if cause != nil {
		result = multierror.Append(result, cause)
	}

	if err := a.supervisor.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop speech session: %w", err))
	}

	a.grpc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.http.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("shutdown http server: %w", err))
	}

	if err := a.publisher.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close publisher: %w", err))
	}
	if err := a.writer.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close artifacts: %w", err))
	}

	return result.ErrorOrNil()
}
