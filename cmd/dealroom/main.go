package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dealroom/internal/app"
	"dealroom/internal/config"
	"dealroom/internal/domain"
	"dealroom/internal/engine"
	"dealroom/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "dealroom",
	Short: "Dealroom CLI",
	Long: `Dealroom turns creator replies into negotiated, signed collaboration contracts.
- Campaigns carry a budget range; creators carry an engagement rate.
- Ingest a creator reply: terms are extracted and a negotiation opens when the reply qualifies.
- Counter-offers are scored against the creator's ask; close offers are answered automatically.
- Agreed negotiations become contracts; brand and creator signatures finalize them.
- Event log: every change is recorded, view with 'dealroom log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(viper.GetString("log-level"))
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	viper.SetEnvPrefix("DEALROOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/dealroom.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(creatorCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(negotiationCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func campaignCmd() *cobra.Command {
	c := &cobra.Command{Use: "campaign", Short: "Manage campaigns"}
	c.AddCommand(campaignUpsertCmd())
	c.AddCommand(campaignShowCmd())
	return c
}

func campaignUpsertCmd() *cobra.Command {
	var in domain.Campaign
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or replace a campaign and its budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpsertCampaign(ctx, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "campaign id")
	cmd.Flags().StringVar(&in.Name, "name", "", "campaign name")
	cmd.Flags().Float64Var(&in.Budget.Min, "budget-min", 0, "budget lower bound")
	cmd.Flags().Float64Var(&in.Budget.Max, "budget-max", 0, "budget upper bound")
	cmd.Flags().StringSliceVar(&in.DefaultDeliverables, "deliverable", nil, "default deliverable tag (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func campaignShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetCampaign(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func creatorCmd() *cobra.Command {
	c := &cobra.Command{Use: "creator", Short: "Manage creator profiles"}
	c.AddCommand(creatorUpsertCmd())
	return c
}

func creatorUpsertCmd() *cobra.Command {
	var in domain.CreatorProfile
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or replace a creator profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpsertCreator(ctx, in, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "creator id")
	cmd.Flags().StringVar(&in.DisplayName, "name", "", "display name")
	cmd.Flags().Float64Var(&in.EngagementRate, "engagement-rate", 0, "engagement rate in [0,1]")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func extractCmd() *cobra.Command {
	var campaignID, text, file string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Preview the terms extracted from a message without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(text, file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res := e.Preview(ctx, campaignID, content)
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable(table.Row{"Interest", "Confidence", "Budget fit", "Total", "Per post", "Per story", "Per reel", "Deliverables", "Timeline"})
				t := res.Terms
				tw.AppendRow(table.Row{
					res.Analysis.InterestLevel, res.Analysis.Confidence, res.Analysis.BudgetCompatibility,
					fmtRate(t.TotalRate), fmtRate(t.RatePerPost), fmtRate(t.RatePerStory), fmtRate(t.RatePerReel),
					strings.Join(t.Deliverables, ","), derefString(t.Timeline),
				})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign id used for budget compatibility")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().StringVar(&file, "file", "", "read message from file (- for stdin)")
	return cmd
}

func ingestCmd() *cobra.Command {
	var comm domain.Communication
	var file string
	var replay bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Record a creator reply and open a negotiation when it qualifies",
		Long:  "Stores the message, extracts terms and opens a negotiation for the campaign/creator pair. With --replay the stored message --id is processed again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				var (
					out engine.ResponseOutcome
					err error
				)
				if replay {
					out, err = e.RecordStoredResponse(ctx, comm.ID, actor)
				} else {
					comm.Content, err = readContent(comm.Content, file)
					if err != nil {
						return err
					}
					out, err = e.RecordCreatorResponse(ctx, comm, actor)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&comm.ID, "id", "", "communication id")
	cmd.Flags().StringVar(&comm.CampaignID, "campaign", "", "campaign id")
	cmd.Flags().StringVar(&comm.CreatorID, "creator", "", "creator id")
	cmd.Flags().StringVar(&comm.Subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&comm.Content, "text", "", "message text")
	cmd.Flags().StringVar(&file, "file", "", "read message from file (- for stdin)")
	cmd.Flags().BoolVar(&replay, "replay", false, "reprocess a stored communication")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func negotiationCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "negotiation",
		Short: "Inspect and drive negotiations",
	}
	n.AddCommand(negotiationListCmd())
	n.AddCommand(negotiationShowCmd())
	n.AddCommand(negotiationRoundsCmd())
	n.AddCommand(negotiationCounterCmd())
	n.AddCommand(negotiationResolveCmd())
	return n
}

func negotiationListCmd() *cobra.Command {
	var f repo.NegotiationFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List negotiations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListNegotiations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Campaign", "Creator", "Status", "Round", "Current total", "Updated"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.CampaignID, n.CreatorID, n.Status,
						fmt.Sprintf("%d/%d", n.CurrentRound, n.MaxRounds), fmtRate(n.CurrentTerms.TotalRate), n.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CampaignID, "campaign", "", "campaign filter")
	cmd.Flags().StringVar(&f.CreatorID, "creator", "", "creator filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (active, agreed, declined, contracted)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func negotiationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a negotiation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.GetNegotiation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
}

func negotiationRoundsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rounds <id>",
		Short: "List the rounds of a negotiation in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rounds, err := e.ListRounds(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rounds)
				}
				tw := newTable(table.Row{"#", "By", "Response", "Total", "Variance", "Likelihood", "Health", "Message"})
				for _, r := range rounds {
					tw.AppendRow(table.Row{r.RoundNumber, r.InitiatedBy, r.ResponseType, fmtRate(r.ProposedTerms.TotalRate),
						r.AIAnalysis.Variance, r.AIAnalysis.LikelihoodOfAcceptance, r.AIAnalysis.NegotiationHealth, r.ResponseMessage})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func negotiationCounterCmd() *cobra.Command {
	var (
		total, perPost, perStory, perReel float64
		deliverables                      []string
		timeline, message                 string
	)
	cmd := &cobra.Command{
		Use:   "counter <id>",
		Short: "Submit a brand counter-offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			terms := domain.DealTerms{Deliverables: deliverables}
			flags := cmd.Flags()
			if flags.Changed("total") {
				terms.TotalRate = domain.Float(total)
			}
			if flags.Changed("per-post") {
				terms.RatePerPost = domain.Float(perPost)
			}
			if flags.Changed("per-story") {
				terms.RatePerStory = domain.Float(perStory)
			}
			if flags.Changed("per-reel") {
				terms.RatePerReel = domain.Float(perReel)
			}
			if timeline != "" {
				terms.Timeline = domain.String(timeline)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.SubmitCounterOffer(ctx, engine.CounterOfferInput{
					NegotiationID:   args[0],
					Terms:           terms,
					ResponseMessage: message,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					if domain.KindOf(err) == domain.KindTransientStore {
						_ = printJSON(map[string]any{"analysis": out.Analysis})
					}
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().Float64Var(&total, "total", 0, "total rate")
	cmd.Flags().Float64Var(&perPost, "per-post", 0, "rate per post")
	cmd.Flags().Float64Var(&perStory, "per-story", 0, "rate per story")
	cmd.Flags().Float64Var(&perReel, "per-reel", 0, "rate per reel")
	cmd.Flags().StringSliceVar(&deliverables, "deliverable", nil, "deliverable tag (repeatable)")
	cmd.Flags().StringVar(&timeline, "timeline", "", "timeline, e.g. \"2 weeks\"")
	cmd.Flags().StringVar(&message, "message", "", "message to the creator")
	return cmd
}

func negotiationResolveCmd() *cobra.Command {
	var decision, message string
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Record the creator's final decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ResolveNegotiation(ctx, engine.ResolveInput{
					NegotiationID: args[0],
					Decision:      decision,
					Message:       message,
					ActorID:       viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "accept or decline")
	cmd.Flags().StringVar(&message, "message", "", "creator message")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func contractCmd() *cobra.Command {
	c := &cobra.Command{Use: "contract", Short: "Generate, inspect and sign contracts"}
	c.AddCommand(contractGenerateCmd())
	c.AddCommand(contractShowCmd())
	c.AddCommand(contractSignCmd())
	return c
}

func contractGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <negotiation-id>",
		Short: "Generate the contract for an agreed negotiation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GenerateContract(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func contractShowCmd() *cobra.Command {
	var byNegotiation bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					c   domain.Contract
					err error
				)
				if byNegotiation {
					c, err = e.GetContractByNegotiation(ctx, args[0])
				} else {
					c, err = e.GetContract(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().BoolVar(&byNegotiation, "negotiation", false, "treat the argument as a negotiation id")
	return cmd
}

func contractSignCmd() *cobra.Command {
	var in engine.SignInput
	cmd := &cobra.Command{
		Use:   "sign <id>",
		Short: "Record a brand or creator signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ContractID = args[0]
			in.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Sign(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&in.Signer, "signer", "", "brand or creator")
	cmd.Flags().StringVar(&in.Signature, "signature", "", "signature text")
	cmd.Flags().StringToStringVar(&in.Metadata, "meta", nil, "signature metadata key=value")
	_ = cmd.MarkFlagRequired("signer")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every stored reply, round, contract and signature appends an event.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Campaign", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.CampaignID, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.CampaignID, "campaign", "", "campaign filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "dealroom.yml holds negotiation thresholds, contract policy, webhooks, Kafka, Redis and server settings. Missing keys keep their defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default dealroom.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

func runtimeOptions() app.Options {
	return app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		Logger:     slog.Default(),
	}
}

func loadConfig() (*config.Config, error) {
	opts := runtimeOptions()
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOrDefault(opts.Workspace)
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, runtimeOptions())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func readContent(text, file string) (string, error) {
	switch file {
	case "":
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("--text or --file required")
		}
		return text, nil
	case "-":
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	default:
		b, err := os.ReadFile(file)
		return string(b), err
	}
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func fmtRate(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *v)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
