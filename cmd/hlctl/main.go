package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hireledger/hireledger/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serviceURL string
	apiKey     string
	cfgFile    string
	jsonOut    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hlctl",
	Short: "hireledger notarization service CLI",
	Long: `hlctl is the command-line interface for the hireledger notarization
service. It provisions chain accounts for organizations and users, manages
job postings, and inspects their on-ledger attestations.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.hlctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serviceURL == "" {
			serviceURL = viper.GetString("service_url")
		}
		if serviceURL == "" {
			serviceURL = "http://localhost:8080"
		}
		if apiKey == "" {
			apiKey = viper.GetString("api_key")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.hlctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serviceURL, "service", "", "notarization service URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "service API key")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output JSON instead of tables")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(postingCmd)
	rootCmd.AddCommand(attestCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	return client.New(serviceURL, client.WithAPIKey(apiKey, "hlctl"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── provision ────────────────────────────────────────────────────────────────

var provisionWait bool

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision chain accounts",
}

var provisionOrgCmd = &cobra.Command{
	Use:   "org <org-id> <name>",
	Short: "Provision a chain account, profile, and registry for an organization",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		acct, err := newClient().ProvisionOrganization(ctx, args[0], args[1], provisionWait)
		if err != nil {
			return err
		}
		if !provisionWait {
			fmt.Println("provisioning accepted; poll `hlctl account org` for the result")
			return nil
		}
		if jsonOut {
			return printJSON(acct)
		}
		printAccount(acct)
		return nil
	},
}

var provisionUserCmd = &cobra.Command{
	Use:   "user <user-id>",
	Short: "Provision a chain account for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		acct, err := newClient().ProvisionUser(ctx, args[0], provisionWait)
		if err != nil {
			return err
		}
		if !provisionWait {
			fmt.Println("provisioning accepted; poll `hlctl account user` for the result")
			return nil
		}
		if jsonOut {
			return printJSON(acct)
		}
		printAccount(acct)
		return nil
	},
}

func init() {
	provisionCmd.PersistentFlags().BoolVar(&provisionWait, "wait", false, "block until provisioning completes")
	provisionCmd.AddCommand(provisionOrgCmd)
	provisionCmd.AddCommand(provisionUserCmd)
}

// ── account ──────────────────────────────────────────────────────────────────

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Look up chain accounts",
}

var accountOrgCmd = &cobra.Command{
	Use:   "org <org-id>",
	Short: "Show an organization's chain account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, err := newClient().GetOrganizationAccount(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(acct)
		}
		printAccount(acct)
		return nil
	},
}

var accountUserCmd = &cobra.Command{
	Use:   "user <user-id>",
	Short: "Show a user's chain account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		acct, err := newClient().GetUserAccount(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(acct)
		}
		printAccount(acct)
		return nil
	},
}

func init() {
	accountCmd.AddCommand(accountOrgCmd)
	accountCmd.AddCommand(accountUserCmd)
}

func printAccount(a *client.ChainAccount) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "OWNER\t%s/%s\n", a.OwnerType, a.OwnerID)
	fmt.Fprintf(w, "ADDRESS\t%s\n", a.Address)
	fmt.Fprintf(w, "DID\t%s (anchored: %v)\n", a.DID, a.DidAnchored)
	if a.ProfileID != "" {
		fmt.Fprintf(w, "PROFILE\t%s\n", a.ProfileID)
	}
	if a.RegistryID != "" {
		fmt.Fprintf(w, "REGISTRY\t%s\n", a.RegistryID)
	}
	fmt.Fprintf(w, "CREATED\t%s\n", a.CreatedAt.Format(time.RFC3339))
	w.Flush()
}

// ── posting ──────────────────────────────────────────────────────────────────

var postingCmd = &cobra.Command{
	Use:   "posting",
	Short: "Manage job postings",
}

var (
	postingStatus string
	postingDesc   string
)

var postingCreateCmd = &cobra.Command{
	Use:   "create <org-id> <org-name> <title>",
	Short: "Create a job posting and schedule its notarization",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newClient().CreatePosting(context.Background(), &client.CreatePostingRequest{
			OrganizationID:   args[0],
			OrganizationName: args[1],
			Title:            args[2],
			Status:           postingStatus,
			Description:      postingDesc,
		})
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(p)
		}
		fmt.Printf("created posting %s (%s)\n", p.ID, p.Status)
		return nil
	},
}

var postingStatusCmd = &cobra.Command{
	Use:   "status <posting-id> <draft|open|closed|archived>",
	Short: "Change a posting's lifecycle status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newClient().UpdatePosting(context.Background(), args[0], &client.UpdatePostingRequest{
			Status: &args[1],
		})
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(p)
		}
		fmt.Printf("posting %s is now %s\n", p.ID, p.Status)
		return nil
	},
}

var postingListCmd = &cobra.Command{
	Use:   "list <org-id>",
	Short: "List an organization's postings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		postings, err := newClient().ListPostings(context.Background(), args[0], 50, 0)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(postings)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tUPDATED")
		for _, p := range postings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Status, p.Title, p.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	postingCreateCmd.Flags().StringVar(&postingStatus, "status", "", "initial status (default draft)")
	postingCreateCmd.Flags().StringVar(&postingDesc, "description", "", "posting description")
	postingCmd.AddCommand(postingCreateCmd)
	postingCmd.AddCommand(postingStatusCmd)
	postingCmd.AddCommand(postingListCmd)
}

// ── attest ───────────────────────────────────────────────────────────────────

var attestCmd = &cobra.Command{
	Use:   "attest <posting-id>",
	Short: "Show the ledger attestation of a posting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newClient().GetAttestation(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(a)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "ENTRY\t%s\n", a.EntryID)
		fmt.Fprintf(w, "REGISTRY\t%s\n", a.RegistryID)
		fmt.Fprintf(w, "DIGEST\t%s\n", a.TxHash)
		fmt.Fprintf(w, "REVOKED\t%v\n", a.Revoked)
		fmt.Fprintf(w, "UPDATED\t%s\n", a.UpdatedAt.Format(time.RFC3339))
		return w.Flush()
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hlctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("hlctl", version)
	},
}
