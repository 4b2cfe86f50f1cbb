package assettagscmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	assettagsrepo "github.com/atlas-itam/atlas/domains/asset-tags/be/repo"
	"github.com/atlas-itam/atlas/domains/asset-tags/be/service"
	"github.com/atlas-itam/atlas/platform/go/persistence"
	"github.com/atlas-itam/atlas/platform/go/requesttrace"
)

// connectFunc opens the service the subcommands operate on. The returned func releases it.
type connectFunc func(ctx context.Context, databaseURL, schema string) (service.Service, func(), error)

type options struct {
	databaseURL string
	schema      string
	timeout     time.Duration
}

// Command groups asset tag counter operations run directly against the database.
func Command() *cobra.Command {
	return newCommand(connectPostgres)
}

func newCommand(connect connectFunc) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "asset-tags",
		Short: "Inspect and operate the asset tag counter",
		Long: "Inspect and operate the asset tag counter. Commands talk to PostgreSQL directly and share\n" +
			"the same atomic counter as the API, so tags issued here never collide with tags issued there.",
	}

	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string (defaults to DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.schema, "schema", persistence.DefaultSchema, "Schema holding the counter table")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall timeout")

	cmd.AddCommand(
		getCommand(opts, connect),
		createCommand(opts, connect),
		updateCommand(opts, connect),
		nextCommand(opts, connect),
		reserveCommand(opts, connect),
		previewCommand(opts, connect),
	)
	return cmd
}

func connectPostgres(ctx context.Context, databaseURL, schema string) (service.Service, func(), error) {
	if databaseURL == "" {
		return nil, nil, errors.New("--database-url or DATABASE_URL is required")
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString: databaseURL,
		SearchPath: schema,
		MaxConns:   2,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}

	store, err := persistence.NewAssetTagStore(ctx, pool)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, nil, fmt.Errorf("init asset tag store: %w", err)
	}

	svc := service.New(assettagsrepo.NewPostgresRepository(store))
	return svc, func() { persistence.ClosePool(pool) }, nil
}

// run opens the service, executes fn with a system audit, and prints its result as JSON.
func run(cmd *cobra.Command, opts *options, connect connectFunc, fn func(ctx context.Context, svc service.Service, audit requesttrace.AuditInfo) (any, error)) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	svc, release, err := connect(ctx, opts.databaseURL, opts.schema)
	if err != nil {
		return err
	}
	defer release()

	audit := requesttrace.System("cli-" + uuid.NewString())
	result, err := fn(ctx, svc, audit)
	if err != nil {
		return describeError(err)
	}
	return printJSON(cmd.OutOrStdout(), result)
}

func getCommand(opts *options, connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the counter settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, connect, func(ctx context.Context, svc service.Service, audit requesttrace.AuditInfo) (any, error) {
				settings, err := svc.Get(ctx, audit)
				if err != nil {
					return nil, err
				}
				return toOutput(settings), nil
			})
		},
	}
}

func createCommand(opts *options, connect connectFunc) *cobra.Command {
	var input service.CreateInput

	c := &cobra.Command{
		Use:   "create",
		Short: "Configure the counter (only once; use update afterwards)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, connect, func(ctx context.Context, svc service.Service, audit requesttrace.AuditInfo) (any, error) {
				settings, err := svc.Create(ctx, audit, input)
				if err != nil {
					return nil, err
				}
				return toOutput(settings), nil
			})
		},
	}

	c.Flags().StringVar(&input.Prefix, "prefix", "", "Tag prefix, up to 10 characters (e.g. DEV-)")
	c.Flags().IntVar(&input.DigitCount, "digit-count", 4, "Minimum zero-padded width of the number (1-10)")
	c.Flags().Int64Var(&input.CurrentNumber, "current-number", 1, "Next number to issue")
	_ = c.MarkFlagRequired("prefix")

	return c
}

func updateCommand(opts *options, connect connectFunc) *cobra.Command {
	var (
		prefix        string
		digitCount    int
		currentNumber int64
	)

	c := &cobra.Command{
		Use:   "update <id>",
		Short: "Change prefix, digit count or the next number",
		Long: "Change prefix, digit count or the next number. Only flags that are set are applied.\n" +
			"Moving current-number backwards allows duplicate tags; the command does not prevent it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid settings id %q: %w", args[0], err)
			}

			var input service.UpdateInput
			if cmd.Flags().Changed("prefix") {
				input.Prefix = &prefix
			}
			if cmd.Flags().Changed("digit-count") {
				input.DigitCount = &digitCount
			}
			if cmd.Flags().Changed("current-number") {
				input.CurrentNumber = &currentNumber
			}

			return run(cmd, opts, connect, func(ctx context.Context, svc service.Service, audit requesttrace.AuditInfo) (any, error) {
				settings, err := svc.Update(ctx, audit, id, input)
				if err != nil {
					return nil, err
				}
				return toOutput(settings), nil
			})
		},
	}

	c.Flags().StringVar(&prefix, "prefix", "", "New tag prefix")
	c.Flags().IntVar(&digitCount, "digit-count", 0, "New minimum digit width")
	c.Flags().Int64Var(&currentNumber, "current-number", 0, "New next number")

	return c
}

func nextCommand(opts *options, connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Issue the next asset tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, connect, func(ctx context.Context, svc service.Service, audit requesttrace.AuditInfo) (any, error) {
				tag, err := svc.Next(ctx, audit)
				if err != nil {
					return nil, err
				}
				return tagOutput{AssetTag: tag}, nil
			})
		},
	}
}

func reserveCommand(opts *options, connect connectFunc) *cobra.Command {
	var count int

	c := &cobra.Command{
		Use:   "reserve",
		Short: "Issue a block of consecutive asset tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, connect, func(ctx context.Context, svc service.Service, audit requesttrace.AuditInfo) (any, error) {
				tags, err := svc.Reserve(ctx, audit, count)
				if err != nil {
					return nil, err
				}
				return blockOutput{AssetTags: tags}, nil
			})
		},
	}

	c.Flags().IntVar(&count, "count", 1, fmt.Sprintf("Number of tags to issue (1-%d)", service.MaxReserve))
	return c
}

func previewCommand(opts *options, connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Show the tag the next call would issue without consuming it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, connect, func(ctx context.Context, svc service.Service, audit requesttrace.AuditInfo) (any, error) {
				tag, err := svc.Preview(ctx, audit)
				if err != nil {
					return nil, err
				}
				return tagOutput{AssetTag: tag}, nil
			})
		},
	}
}

type settingsOutput struct {
	ID            uuid.UUID `json:"id"`
	Prefix        string    `json:"prefix"`
	DigitCount    int       `json:"digitCount"`
	CurrentNumber int64     `json:"currentNumber"`
	IsActive      bool      `json:"isActive"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type tagOutput struct {
	AssetTag string `json:"assetTag"`
}

type blockOutput struct {
	AssetTags []string `json:"assetTags"`
}

func toOutput(s service.Settings) settingsOutput {
	return settingsOutput{
		ID:            s.ID,
		Prefix:        s.Prefix,
		DigitCount:    s.DigitCount,
		CurrentNumber: s.CurrentNumber,
		IsActive:      s.IsActive,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeError keeps the domain sentinels matchable while making validation failures readable.
func describeError(err error) error {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		return fmt.Errorf("%w: %v", err, validationErr.Fields)
	}
	return err
}
