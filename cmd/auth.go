package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/tsundoku/internal/server"
	"github.com/desertthunder/tsundoku/internal/shared"
	"github.com/desertthunder/tsundoku/internal/ui"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// AuthLogin performs the OAuth2 authorization code flow for AniList.
//
// Starts a local callback server, opens the browser for user authorization and stores the exchanged token.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if r.anilist == nil {
		return fmt.Errorf("%w: tracker does not support browser login", shared.ErrServiceUnavailable)
	}
	if r.config.Tracker.ClientID == "" || r.config.Tracker.ClientSecret == "" {
		return fmt.Errorf("%w: tracker.client_id and tracker.client_secret must be set in %s", shared.ErrInvalidConfig, r.configPath)
	}

	if _, err := r.doOAuth(ctx, cmd.Duration("timeout")); err != nil {
		return err
	}

	r.writePlainln("%s", ui.Styles.OK("✓ Authorization successful"))
	if viewer, err := r.anilist.Viewer(ctx); err == nil {
		r.writePlain("Logged in as %s (id %d)\n", viewer.Name, viewer.ID)
	} else {
		r.logger.Warn("failed to fetch viewer", "error", err)
	}
	r.writePlain("\nYou can now use: tsundoku sync pull\n")
	return nil
}

func (r *Runner) doOAuth(ctx context.Context, timeout time.Duration) (*oauth2.Token, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := r.anilist.AuthURL(state)
	oauthHandler := server.NewOAuthHandler(r.anilist, state)
	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	router.Handler(oauthHandler)

	serverAddr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	serverCtx, stop := context.WithCancel(ctx)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server at %v", serverAddr)
		serverErrors <- server.Serve(serverCtx, serverAddr, router, r.logger)
	}()

	r.writePlain("→ Opening browser for AniList authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("%s", ui.Styles.Warn("⚠ Could not open browser automatically."))
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult

	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		if err == nil {
			err = fmt.Errorf("callback server stopped")
		}
		return nil, fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stop()
	if err := <-serverErrors; err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}

	if result.Token == nil {
		return nil, fmt.Errorf("no token received")
	}

	return result.Token, nil
}

// AuthStatus reports whether a token is stored and who it belongs to.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if !r.tracker.Authenticated() {
		r.writePlain("%s\n", ui.Styles.Warn("✗ Not authenticated"))
		return r.writePlain("Run 'tsundoku auth login' to connect your %s account\n", r.tracker.Name())
	}

	r.writePlain("%s\n", ui.Styles.OK("✓ Authenticated with "+r.tracker.Name()))
	if r.anilist == nil {
		return nil
	}

	if token := r.anilist.Token(); token != nil && !token.Expiry.IsZero() {
		r.writePlain("Token expires: %s\n", token.Expiry.Local().Format(time.RFC1123))
	}

	viewer, err := r.anilist.Viewer(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	return r.writePlain("User: %s (id %d)\n", viewer.Name, viewer.ID)
}

// AuthLogout deletes the stored token.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if r.anilist == nil {
		return fmt.Errorf("%w: tracker does not support logout", shared.ErrServiceUnavailable)
	}
	if err := r.anilist.Logout(); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	return r.writePlain("%s\n", ui.Styles.OK("✓ Logged out"))
}
