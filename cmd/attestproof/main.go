package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aspect-build/attestproof/internal/config"
	"github.com/aspect-build/attestproof/internal/logx"
	"github.com/aspect-build/attestproof/internal/version"
)

// devCommands is populated by dev.go (build tag "dev") with dev-only subcommands.
var devCommands []*cobra.Command

// cli carries state shared by every subcommand.
type cli struct {
	v        *viper.Viper
	cfg      *config.Config
	cfgFile  string
	logLevel string
	verbose  bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code: 0 on success, 1
// when verification fails, 2 for usage and configuration errors.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{v: config.InitViper()}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	if _, ok := err.(*verificationFailed); ok {
		return 1
	}
	fmt.Fprintf(stderr, "attestproof: %v\n", err)
	return 2
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "attestproof",
		Short: "Verify Azure attestation tokens and encode their claims for on-chain use",
		Long: `attestproof verifies RS256 attestation tokens issued by Microsoft Azure
Attestation against the issuer's published key set, extracts the platform and
client-payload claims, and emits a canonical ABI encoding of the result.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	root.SetVersionTemplate(version.String("attestproof") + "\n")

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default is ./config.yaml)")
	pf.StringVar(&c.logLevel, "log-level", "", "Log level: debug|info|warn|error (or ATTESTPROOF_LOG_LEVEL)")
	pf.BoolVar(&c.verbose, "verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	config.BindFlags(root, c.v)

	root.AddCommand(c.verifyCmd())
	root.AddCommand(c.inspectCmd())
	root.AddCommand(c.decodeCmd())
	root.AddCommand(c.keysCmd())
	for _, cmd := range devCommands {
		root.AddCommand(cmd)
	}
	return root
}

func (c *cli) load() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	}
	cfg, err := config.Load(c.v)
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := c.logLevel
	if level == "" && !c.verbose {
		level = cfg.LogLevel
	}
	if err := logx.Configure(level, c.verbose); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	return nil
}
