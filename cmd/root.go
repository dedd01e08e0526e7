package cmd

import (
	"io"
	"io/fs"
	"io/ioutil"
	"log"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/josephlewis42/simplesh/core"
	"github.com/josephlewis42/simplesh/core/config"
	"github.com/josephlewis42/simplesh/core/logger"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	cfgPath     string
	commandLine string

	// exitStatus is the process exit code once the root command returns.
	exitStatus int
)

func loadConfig() (*config.Configuration, error) {
	configuration, err := config.Load(cfgPath)

	if errors.Is(err, fs.ErrNotExist) {
		log.Println("Couldn't load config: did you run init?")
	}

	return configuration, err
}

// loadConfigOrDefault falls back to the built-in configuration if none was
// initialized.
func loadConfigOrDefault() (*config.Configuration, error) {
	configuration, err := loadConfig()
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return configuration, err
}

func isInteractive(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "simplesh",
	Short: "Simple Shell",
	Long: `A small command interpreter supporting redirection with > and <,
two stage pipelines, background commands ending in & and !! to run the
previous command again.`,
	Args: cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		appLogger := log.New(cmd.ErrOrStderr(), "[simplesh] ", 0)

		cfg, err := loadConfigOrDefault()
		if err != nil {
			return err
		}

		events := logger.NewNopLogger()
		logFd, err := cfg.OpenAppLog()
		if err != nil {
			return err
		}
		if logFd != nil {
			defer logFd.Close()
			events = logger.NewJsonLinesLogRecorder(logFd)
		}

		stdin := cmd.InOrStdin()
		interp := core.NewInterpreter(cfg, &core.InterpreterAttr{
			Stdin:  stdin,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
			Events: events.NewSession(),
			Log:    appLogger,
		})

		if cmd.Flags().Changed("command") {
			if err := interp.Dispatch(commandLine); err != nil {
				return err
			}
			exitStatus = interp.LastStatus()
			return nil
		}

		sh, err := core.NewShell(
			interp,
			cfg,
			ioutil.NopCloser(stdin),
			cmd.OutOrStdout(),
			cmd.ErrOrStderr(),
			isInteractive(stdin),
			appLogger,
		)
		if err != nil {
			return err
		}
		defer sh.Close()

		if err := sh.Run(); err != nil {
			return err
		}
		exitStatus = interp.LastStatus()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
	os.Exit(exitStatus)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", ".", "config path")
	rootCmd.Flags().StringVarP(&commandLine, "command", "c", "", "run a single command line and exit")
}
