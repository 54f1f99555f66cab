package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sergeytimoshin/aut-contracts/internal/app"
	"github.com/sergeytimoshin/aut-contracts/internal/config"
	"github.com/sergeytimoshin/aut-contracts/internal/db"
	"github.com/sergeytimoshin/aut-contracts/internal/domain"
	"github.com/sergeytimoshin/aut-contracts/internal/engine"
	"github.com/sergeytimoshin/aut-contracts/internal/migrate"
	"github.com/sergeytimoshin/aut-contracts/internal/repo"
	"github.com/sergeytimoshin/aut-contracts/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "autd",
	Short: "AutDAO CLI",
	Long: `AutDAO runs DAO governance off-chain: memberships, role-weighted
proposals, a plugin registry, and quests that bundle plugin tasks.
- Workspace: your .autdao directory holding the database; autdao.yml holds
  role weights and registry admins.
- DAO: a community with members; each member has a role (1..3) and a
  commitment level (1..10).
- Proposals: time-windowed votes where a member's role sets the weight of
  their ballot.
- Plugins: task boards registered globally by type, then attached per DAO.
- Quests: ordered sets of task refs drawn from the DAO's attached plugins.
- Event log: diary of everything that happened, view with 'autd log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
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
	viper.SetEnvPrefix("AUTDAO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("identity", "local-user", "caller identity")
	rootCmd.PersistentFlags().String("dao", "", "dao id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("identity", rootCmd.PersistentFlags().Lookup("identity"))
	_ = viper.BindPFlag("dao", rootCmd.PersistentFlags().Lookup("dao"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(daoCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(pluginCmd())
	rootCmd.AddCommand(questCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default autdao.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func daoCmd() *cobra.Command {
	dao := &cobra.Command{Use: "dao", Short: "Manage DAOs"}
	dao.AddCommand(daoCreateCmd())
	dao.AddCommand(daoListCmd())
	dao.AddCommand(daoShowCmd())
	return dao
}

func daoCreateCmd() *cobra.Command {
	var id, name, metadataURI string
	var market int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a DAO; the caller becomes its first admin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			if name == "" {
				name = id
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDAO(ctx, id, name, metadataURI, market, viper.GetString("identity"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "dao id")
	cmd.Flags().StringVar(&name, "name", "", "dao name")
	cmd.Flags().StringVar(&metadataURI, "metadata-uri", "", "metadata URI")
	cmd.Flags().IntVar(&market, "market", 0, "market")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func daoListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List DAOs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDAOs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Market", "Created"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.Market, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func daoShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a DAO",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				d, err := e.Repo.GetDAO(ctx, daoID)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage memberships"}
	member.AddCommand(memberMintCmd())
	member.AddCommand(memberListCmd())
	member.AddCommand(memberShowCmd())
	return member
}

func memberMintCmd() *cobra.Command {
	var username, metadataURI string
	var role, commitment int
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint a membership for the caller identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				m, err := e.MintMembership(ctx, engine.MintOptions{
					DAOID:       daoID,
					Identity:    viper.GetString("identity"),
					Username:    username,
					MetadataURI: metadataURI,
					Role:        role,
					Commitment:  commitment,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username")
	cmd.Flags().StringVar(&metadataURI, "metadata-uri", "", "metadata URI")
	cmd.Flags().IntVar(&role, "role", 1, "role (1..3)")
	cmd.Flags().IntVar(&commitment, "commitment", 1, "commitment (1..10)")
	return cmd
}

func memberListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				items, err := e.Repo.ListMembers(ctx, daoID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Identity", "Username", "Role", "Weight", "Commitment", "Admin"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.Identity, m.Username, m.Role, e.Weight(m.Role), m.Commitment, m.Admin})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func memberShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <identity>",
		Short: "Show a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				m, err := e.Repo.GetMember(ctx, daoID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func proposalCmd() *cobra.Command {
	proposal := &cobra.Command{
		Use:   "proposal",
		Short: "Manage proposals",
		Long:  "Proposals are role-weighted votes open over an inclusive [start, end] window. Any member can create one; each member votes once.",
	}
	proposal.AddCommand(proposalCreateCmd())
	proposal.AddCommand(proposalListCmd())
	proposal.AddCommand(proposalShowCmd())
	proposal.AddCommand(proposalActiveCmd())
	proposal.AddCommand(proposalVoteCmd())
	proposal.AddCommand(proposalVotesCmd())
	return proposal
}

func proposalCreateCmd() *cobra.Command {
	var metadataRef string
	var start, end int64
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if start == 0 {
				start = time.Now().Unix()
			}
			if end == 0 {
				if duration <= 0 {
					duration = 24 * time.Hour
				}
				end = start + int64(duration/time.Second)
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				id, err := e.CreateProposal(ctx, daoID, viper.GetString("identity"), start, end, metadataRef)
				if err != nil {
					return err
				}
				p, err := e.GetProposal(ctx, daoID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&metadataRef, "metadata", "", "proposal metadata ref (CID or URI)")
	cmd.Flags().Int64Var(&start, "start", 0, "window start (unix seconds, default now)")
	cmd.Flags().Int64Var(&end, "end", 0, "window end (unix seconds)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "window length from start when --end is not set")
	return cmd
}

func proposalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				items, err := e.Repo.ListProposals(ctx, daoID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Metadata", "Start", "End", "Yes", "No"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.MetadataRef, p.StartTime, p.EndTime, p.YesWeight, p.NoWeight})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func proposalShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid proposal id %q", args[0])
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				p, err := e.GetProposal(ctx, daoID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func proposalActiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List ids of proposals whose window covers now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				ids, err := e.ActiveProposalIDs(ctx, daoID)
				if err != nil {
					return err
				}
				if ids == nil {
					ids = []uint64{}
				}
				return printJSONOrTable(ids)
			})
		},
	}
	return cmd
}

func proposalVoteCmd() *cobra.Command {
	var support string
	cmd := &cobra.Command{
		Use:   "vote <id>",
		Short: "Cast a weighted vote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid proposal id %q", args[0])
			}
			var yes bool
			switch strings.ToLower(support) {
			case "yes", "true", "for":
				yes = true
			case "no", "false", "against":
				yes = false
			default:
				return fmt.Errorf("--support must be yes or no")
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				if err := e.Vote(ctx, daoID, viper.GetString("identity"), id, yes); err != nil {
					return err
				}
				p, err := e.GetProposal(ctx, daoID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&support, "support", "", "yes or no")
	_ = cmd.MarkFlagRequired("support")
	return cmd
}

func proposalVotesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "votes <id>",
		Short: "List recorded votes for a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid proposal id %q", args[0])
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				votes, err := e.Repo.ListVotes(ctx, daoID, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(votes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Identity", "Support", "Weight", "At"})
				for _, v := range votes {
					tw.AppendRow(table.Row{v.Identity, v.Support, v.Weight, v.VotedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func pluginCmd() *cobra.Command {
	plugin := &cobra.Command{
		Use:   "plugin",
		Short: "Plugin registry and per-DAO instances",
		Long:  "Plugin definitions are registered globally by type id; a DAO admin then attaches a type to their DAO before quests can reference its tasks.",
	}
	plugin.AddCommand(pluginDefineCmd())
	plugin.AddCommand(pluginDefinitionsCmd())
	plugin.AddCommand(pluginAttachCmd())
	plugin.AddCommand(pluginListCmd())
	plugin.AddCommand(pluginRegisteredCmd())
	return plugin
}

func pluginDefineCmd() *cobra.Command {
	var implAddress, baseURI string
	var kind int
	cmd := &cobra.Command{
		Use:   "define",
		Short: "Add a plugin definition to the global registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if implAddress == "" {
				return fmt.Errorf("--impl required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id, err := e.AddPluginDefinition(ctx, viper.GetString("identity"), implAddress, baseURI, kind)
				if err != nil {
					return err
				}
				d, err := e.GetPluginDefinition(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&implAddress, "impl", "", "implementation address")
	cmd.Flags().StringVar(&baseURI, "metadata", "", "metadata base URI")
	cmd.Flags().IntVar(&kind, "kind", 0, "plugin kind")
	return cmd
}

func pluginDefinitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "List plugin definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPluginDefinitions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "Impl", "Kind", "Metadata"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.ImplAddress, d.Kind, d.BaseURI})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func pluginAttachCmd() *cobra.Command {
	var typeID uint64
	var implAddress string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach a registered plugin type to the DAO",
		RunE: func(cmd *cobra.Command, args []string) error {
			if typeID == 0 {
				return fmt.Errorf("--type required")
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				instID, err := e.AddPluginToDAO(ctx, viper.GetString("identity"), daoID, implAddress, typeID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"dao_id":         daoID,
					"instance_id":    instID,
					"plugin_type_id": typeID,
				})
			})
		},
	}
	cmd.Flags().Uint64Var(&typeID, "type", 0, "plugin type id")
	cmd.Flags().StringVar(&implAddress, "impl", "", "instance implementation address")
	return cmd
}

func pluginListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plugin instances attached to the DAO",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				items, err := e.Repo.ListPluginInstances(ctx, daoID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Instance", "Type", "Impl", "Created"})
				for _, inst := range items {
					tw.AppendRow(table.Row{inst.ID, inst.PluginTypeID, inst.ImplAddress, inst.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func pluginRegisteredCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registered <type-id>",
		Short: "Check whether a plugin type is attached to the DAO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typeID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid plugin type id %q", args[0])
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				ok, err := e.IsPluginRegisteredForDAO(ctx, daoID, typeID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"dao_id":         daoID,
					"plugin_type_id": typeID,
					"registered":     ok,
				})
			})
		},
	}
	return cmd
}

func questCmd() *cobra.Command {
	quest := &cobra.Command{
		Use:   "quest",
		Short: "Manage quests",
		Long:  "Quests collect task refs (plugin type + task id) into an ordered, deduplicated set. Adding refs from an unattached plugin type rejects the whole batch.",
	}
	quest.AddCommand(questCreateCmd())
	quest.AddCommand(questListCmd())
	quest.AddCommand(questShowCmd())
	quest.AddCommand(questTasksCmd())
	quest.AddCommand(questAddTasksCmd())
	quest.AddCommand(questRemoveTasksCmd())
	quest.AddCommand(questCreateTaskCmd())
	return quest
}

func questCreateCmd() *cobra.Command {
	var metadataRef string
	var requiredRole int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a quest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				id, err := e.CreateQuest(ctx, daoID, viper.GetString("identity"), requiredRole, metadataRef)
				if err != nil {
					return err
				}
				q, err := e.GetQuest(ctx, daoID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&metadataRef, "metadata", "", "quest metadata ref")
	cmd.Flags().IntVar(&requiredRole, "role", 0, "required role to take the quest")
	return cmd
}

func questListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				items, err := e.Repo.ListQuests(ctx, daoID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Metadata", "Role", "Tasks"})
				for _, q := range items {
					tw.AppendRow(table.Row{q.ID, q.MetadataRef, q.RequiredRole, q.TasksCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func questShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid quest id %q", args[0])
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				q, err := e.GetQuest(ctx, daoID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	return cmd
}

func questTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks <id>",
		Short: "List a quest's task refs in insertion order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid quest id %q", args[0])
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				refs, err := e.TasksPerQuest(ctx, daoID, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(refs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Plugin Type", "Task"})
				for _, ref := range refs {
					tw.AppendRow(table.Row{ref.PluginTypeID, ref.TaskID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func questAddTasksCmd() *cobra.Command {
	var rawRefs []string
	cmd := &cobra.Command{
		Use:   "add-tasks <id>",
		Short: "Add task refs to a quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid quest id %q", args[0])
			}
			refs, err := parseTaskRefs(rawRefs)
			if err != nil {
				return err
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				if err := e.AddTasks(ctx, daoID, viper.GetString("identity"), id, refs); err != nil {
					return err
				}
				q, err := e.GetQuest(ctx, daoID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringArrayVar(&rawRefs, "ref", []string{}, "task ref as <plugin-type>:<task-id> (repeatable)")
	return cmd
}

func questRemoveTasksCmd() *cobra.Command {
	var rawRefs []string
	cmd := &cobra.Command{
		Use:   "remove-tasks <id>",
		Short: "Remove task refs from a quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid quest id %q", args[0])
			}
			refs, err := parseTaskRefs(rawRefs)
			if err != nil {
				return err
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				if err := e.RemoveTasks(ctx, daoID, viper.GetString("identity"), id, refs); err != nil {
					return err
				}
				q, err := e.GetQuest(ctx, daoID, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringArrayVar(&rawRefs, "ref", []string{}, "task ref as <plugin-type>:<task-id> (repeatable)")
	return cmd
}

func questCreateTaskCmd() *cobra.Command {
	var typeID uint64
	var role int
	var uri string
	var start, end int64
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "create-task <id>",
		Short: "Create a task on a plugin board and link it to the quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			questID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid quest id %q", args[0])
			}
			if typeID == 0 {
				return fmt.Errorf("--type required")
			}
			if start == 0 {
				start = time.Now().Unix()
			}
			if end == 0 {
				if duration <= 0 {
					duration = 7 * 24 * time.Hour
				}
				end = start + int64(duration/time.Second)
			}
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				t, err := e.CreateQuestTask(ctx, engine.TaskCreateOptions{
					DAOID:        daoID,
					Caller:       viper.GetString("identity"),
					QuestID:      questID,
					PluginTypeID: typeID,
					Role:         role,
					URI:          uri,
					StartTime:    start,
					EndTime:      end,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Uint64Var(&typeID, "type", 0, "plugin type id")
	cmd.Flags().IntVar(&role, "role", 0, "role the task targets")
	cmd.Flags().StringVar(&uri, "uri", "", "task metadata URI")
	cmd.Flags().Int64Var(&start, "start", 0, "task window start (unix seconds, default now)")
	cmd.Flags().Int64Var(&end, "end", 0, "task window end (unix seconds)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "window length from start when --end is not set")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: DAO creation, mints, proposals, votes, plugin and quest changes. Indexers read the same stream over webhooks.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineDAO(cmd.Context(), func(ctx context.Context, e engine.Engine, daoID string) error {
				events, err := e.Repo.LatestEvents(ctx, n, 0, daoID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key bound to the caller identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:       uuid.NewString(),
					Identity: viper.GetString("identity"),
					Name:     name,
					KeyHash:  repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The secret is shown once and never stored.
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"identity": key.Identity,
					"name":     key.Name,
					"secret":   secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var identity string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, identity)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Identity", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Identity, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&identity, "for", "", "filter by identity")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowIdentityHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if dao := viper.GetString("dao"); dao != "" {
				cfg.DAO.ID = dao
			}
			e := engine.New(conn, cfg)
			secret := cfg.Auth.JWTSecret
			if env := os.Getenv("AUTDAO_JWT_SECRET"); env != "" {
				secret = env
			}
			if secret == "" {
				return fmt.Errorf("AUTDAO_JWT_SECRET or auth.jwt_secret is required for bearer auth")
			}
			authCfg := server.AuthConfig{
				JWTSecret:                 secret,
				AllowLegacyIdentityHeader: allowIdentityHeader || cfg.Auth.AllowIdentityHeader,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving AutDAO API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowIdentityHeader, "allow-identity-header", false, "accept unauthenticated X-Identity header (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withEngineDAO(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		daoID, err := app.ResolveDAO(ctx, e.Config, viper.GetString("dao"), e.Repo)
		if err != nil {
			return err
		}
		return fn(ctx, e, daoID)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func parseTaskRefs(raw []string) ([]domain.TaskRef, error) {
	refs := make([]domain.TaskRef, 0, len(raw))
	for _, item := range raw {
		parts := strings.SplitN(strings.TrimSpace(item), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid ref %q, want <plugin-type>:<task-id>", item)
		}
		typeID, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid plugin type in ref %q", item)
		}
		taskID, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid task id in ref %q", item)
		}
		refs = append(refs, domain.TaskRef{PluginTypeID: typeID, TaskID: taskID})
	}
	return refs, nil
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
