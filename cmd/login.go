package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/browser"
)

// newLoginCmd creates the 'login' subcommand, which opens a visible browser
// window against the persistent profile so an operator can sign in by hand.
// Crawl sessions reuse the same profile and inherit the cookies.
func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Opens a visible browser for manual sign-in",
		Long: `Launches a non-headless browser on the configured persistent profile
(browser.user_data_dir) and navigates to the site. Sign in manually,
then interrupt the command; subsequent crawls reuse the saved cookies.`,

		RunE: runLoginCommand,
	}
	return cmd
}

func runLoginCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.GetLogger()

	if cfg.Browser.UserDataDir == "" {
		return errors.New("browser.user_data_dir must be set so the login survives this session")
	}

	engine, err := browser.NewEngine(browser.Config{
		Headless:          false,
		UserAgent:         cfg.Site.UserAgent,
		UserDataDir:       cfg.Browser.UserDataDir,
		NavigationTimeout: cfg.Browser.NavTimeout(),
		OpTimeout:         cfg.Browser.OpTimeout(),
	}, logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("init browser: %w", err)
	}
	defer engine.Close()

	sess, err := engine.NewSession(cmd.Context())
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	if err := sess.Navigate(cmd.Context(), cfg.Site.BaseURL); err != nil {
		return fmt.Errorf("navigate to %s: %w", cfg.Site.BaseURL, err)
	}

	logger.Info("browser is open; sign in, then press Ctrl-C to save the profile",
		zap.String("profile", cfg.Browser.UserDataDir),
	)
	<-cmd.Context().Done()
	logger.Info("login session closed", zap.String("profile", cfg.Browser.UserDataDir))
	return nil
}
