package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/api"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/client"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/comfy"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/config"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/engine"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/ledger"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/storage"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	led, err := ledger.NewSQLiteLedger(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	httpClient := &http.Client{}

	var refresher *client.RefreshCoordinator
	if cfg.AuthURL != "" {
		refresher = client.NewRefreshCoordinator(
			"",
			tokenRefreshFunc(httpClient, cfg.AuthURL, cfg.RefreshToken),
			logger,
		)
	}

	exec := client.NewExecutor(httpClient, refresher, logger)
	backend := comfy.NewClient(exec, cfg.ComfyURL, logger)

	store, err := storage.NewDiskStore(cfg.MediaDir, "/media", backend, logger)
	if err != nil {
		return fmt.Errorf("open media store: %w", err)
	}

	syncer := ledger.NewSynchronizer(led, store, logger)

	eng := engine.New(backend, comfy.NewRegistry(), syncer, engine.Options{
		PollInterval:  cfg.PollInterval,
		MaxWait:       cfg.MaxWait,
		MaxWaitByKind: cfg.MaxWaitByKind,
	}, logger)
	defer eng.Close()

	srv := api.NewServer(cfg.ListenAddr, led, eng, backend, client.NewCache(), cfg.FeedTTL, logger)

	// Persisted outputs are plain files under the media dir; serve them as-is.
	srv.Router().Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))))

	return srv.Run()
}

// tokenRefreshFunc exchanges the long-lived refresh token for a fresh access
// token at the credential endpoint.
func tokenRefreshFunc(httpClient *http.Client, authURL, refreshToken string) client.RefreshFunc {
	return func(ctx context.Context) (string, error) {
		body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
		if err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("credential endpoint returned %d", resp.StatusCode)
		}

		var out struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode credential response: %w", err)
		}
		if out.AccessToken == "" {
			return "", fmt.Errorf("credential endpoint returned no access token")
		}
		return out.AccessToken, nil
	}
}
