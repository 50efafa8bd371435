package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/takeoff/cmd/takeoff/ui"
	"github.com/spherical/takeoff/internal/api"
	"github.com/spherical/takeoff/internal/cache"
	"github.com/spherical/takeoff/internal/config"
	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/observability"
	"github.com/spherical/takeoff/internal/pdf"
	"github.com/spherical/takeoff/internal/wizard"
)

// env is what every subcommand shares once the root pre-run has loaded
// the configuration.
type env struct {
	cfg     *config.Config
	logger  *observability.Logger
	console *ui.Console
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		Output:      cmd.ErrOrStderr(),
		ServiceName: "takeoff",
	}).WithOperation(cmd.Name())

	return &env{
		cfg:     cfg,
		logger:  logger,
		console: ui.NewConsole(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), noColor, verbose),
	}, nil
}

func (e *env) apiClient() *api.Client {
	return api.NewClient(e.cfg.API.BaseURL, e.cfg.API.Prefix,
		api.WithLogger(e.logger),
		api.WithRequestTimeout(e.cfg.API.RequestTimeout),
		api.WithIdleTimeout(e.cfg.API.IdleTimeout),
	)
}

// pageSource builds the rasterizer, wrapped in the page cache when enabled.
// The returned close func releases the cache.
func (e *env) pageSource(progress func(done, total int)) (domain.PageSource, func()) {
	opts := []pdf.ConverterOption{
		pdf.WithDPI(e.cfg.Render.DPI),
		pdf.WithThumbnailWidth(e.cfg.Render.ThumbnailWidth),
		pdf.WithWorkers(e.cfg.Render.Workers),
		pdf.WithLogger(e.logger),
	}
	if progress != nil {
		opts = append(opts, pdf.WithPageProgress(progress))
	}
	converter := pdf.NewConverter(opts...)
	if !e.cfg.Cache.Enabled {
		return converter, func() {}
	}

	mc := cache.NewMemoryClient(e.cfg.Cache.MaxEntries)
	variant := fmt.Sprintf("dpi%g-w%d", converter.DPI(), e.cfg.Render.ThumbnailWidth)
	source := pdf.NewCachedSource(converter, mc, variant, e.cfg.Cache.TTL, e.logger)
	return source, func() {
		e.logger.Debug().Int("entries", mc.Len()).Msg("closing page cache")
		_ = mc.Close()
	}
}

// tradeModel resolves a --trade flag that may be a trade id or a model token.
func tradeModel(value string) (domain.ModelType, error) {
	if mt, err := wizard.ModelTypeFor(value); err == nil {
		return mt, nil
	}
	for _, mt := range []domain.ModelType{
		domain.ModelElectrical,
		domain.ModelMechanical,
		domain.ModelFireAlarm,
		domain.ModelFireSprinkler,
		domain.ModelPlumbing,
	} {
		if string(mt) == value {
			return mt, nil
		}
	}
	return "", domain.SelectionError("Invalid model type selected")
}
