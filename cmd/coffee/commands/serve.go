package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitwit/coffee"
	"github.com/vitwit/coffee/clients"
	"github.com/vitwit/coffee/types"
	"github.com/vitwit/coffee/utils"
)

func serveCmd() *cobra.Command {
	var (
		maxSpend string
		noWallet bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the coffee page and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := []coffee.Option{coffee.WithLogger(log)}

			if !noWallet {
				wallet, err := openWallet(ctx, maxSpend)
				if err != nil {
					return err
				}
				if wallet != nil {
					defer wallet.Close()
					opts = append(opts, coffee.WithProvider(wallet))
				}
			}

			app, err := coffee.New(cfg, opts...)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Start(ctx); err != nil {
				return err
			}

			server := app.Server()
			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe(cfg.Server.Listen)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("shutting down", nil)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&maxSpend, "max-spend", "", "decline transactions above this many ETH")
	cmd.Flags().BoolVar(&noWallet, "no-wallet", false, "run without a wallet")
	return cmd
}

// openWallet returns nil without error when no key is configured; the page
// then behaves as if no wallet were installed.
func openWallet(ctx context.Context, maxSpend string) (*clients.EVMWallet, error) {
	if cfg.PrivateKey == "" && cfg.KeystorePath == "" {
		log.Warn("no wallet key configured, serving without a wallet", nil)
		return nil, nil
	}

	key, err := clients.LoadKey(cfg.PrivateKey, cfg.KeystorePath, cfg.KeystorePassphrase)
	if err != nil {
		return nil, err
	}

	var approve clients.Approver = clients.AutoApprove
	if maxSpend != "" {
		limit, err := utils.ParseAmountWithDecimals(maxSpend, types.NativeDecimals)
		if err != nil {
			return nil, fmt.Errorf("invalid --max-spend: %w", err)
		}
		approve = clients.SpendingLimit(limit)
	}

	id, err := types.ParseChainID(cfg.ChainID)
	if err != nil {
		return nil, err
	}

	wallet, err := clients.NewEVMWallet(ctx, clients.WalletConfig{
		Key:     key,
		RPCUrl:  cfg.RPCUrl,
		Chains:  []types.ChainDescriptor{types.MainnetDescriptor(id, cfg.RPCUrl)},
		Approve: approve,
		Logger:  log,
	})
	if err != nil {
		return nil, errors.Join(errors.New("wallet unavailable"), err)
	}

	log.Info("wallet ready", map[string]any{
		"address":  wallet.Address().Hex(),
		"chain_id": cfg.ChainID,
	})
	return wallet, nil
}

