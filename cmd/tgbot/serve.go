package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/proffust/telegram-bot-serverless-yc/internal/bot"
	"github.com/proffust/telegram-bot-serverless-yc/internal/conversation"
	"github.com/proffust/telegram-bot-serverless-yc/internal/convstore"
	"github.com/proffust/telegram-bot-serverless-yc/internal/dispatch"
	"github.com/proffust/telegram-bot-serverless-yc/internal/iamtoken"
	"github.com/proffust/telegram-bot-serverless-yc/internal/logutil"
	"github.com/proffust/telegram-bot-serverless-yc/internal/telegramclient"
	"github.com/proffust/telegram-bot-serverless-yc/providers/speechkit"
	"github.com/proffust/telegram-bot-serverless-yc/providers/yandexart"
	"github.com/proffust/telegram-bot-serverless-yc/providers/yandexgpt"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server that processes Telegram updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			token := strings.TrimSpace(flagOrViperString(cmd, "telegram-bot-token", "telegram.bot_token"))
			if token == "" {
				return fmt.Errorf("missing telegram.bot_token (set via --telegram-bot-token or TGBOT_TELEGRAM_BOT_TOKEN)")
			}
			folderID := strings.TrimSpace(viper.GetString("yandex.folder_id"))
			if folderID == "" {
				return fmt.Errorf("missing yandex.folder_id")
			}

			tokens := tokenProviderFromViper()
			store, err := storeFromViper(cmd.Context())
			if err != nil {
				return err
			}

			manager, err := conversation.NewManager(conversation.Options{
				Store:         store,
				Client:        yandexgpt.New(viper.GetString("yandex.llm_endpoint"), tokens),
				FolderID:      folderID,
				AllowedModels: viper.GetStringSlice("models.available"),
				Logger:        logger,
			})
			if err != nil {
				return err
			}

			tg := telegramclient.New(nil, viper.GetString("telegram.api_base"), token)
			handlers, err := bot.New(bot.Options{
				Messenger:        tg,
				Conversations:    manager,
				Transcriber:      speechkit.NewRecognizer(viper.GetString("yandex.stt_endpoint"), tokens, folderID),
				Synthesizer:      speechkit.NewSynthesizer(viper.GetString("yandex.tts_endpoint"), tokens, folderID),
				ImageGenerator:   yandexart.New(viper.GetString("yandex.llm_endpoint"), viper.GetString("yandex.operations_endpoint"), tokens, folderID),
				MaxMessageLength: viper.GetInt("telegram.max_message_length"),
				Logger:           logger,
			})
			if err != nil {
				return err
			}

			router, err := dispatch.NewRouter(handlers.Routes())
			if err != nil {
				return err
			}

			bind := flagOrViperString(cmd, "server-bind", "server.bind")
			port := flagOrViperInt(cmd, "server-port", "server.port")
			path := viper.GetString("server.webhook_path")

			mux := http.NewServeMux()
			mux.Handle("POST "+path, newWebhookHandler(router, logger))
			mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})

			srv := &http.Server{
				Addr:              fmt.Sprintf("%s:%d", bind, port),
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server_listening", "addr", srv.Addr, "webhook_path", path)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				logger.Info("server_shutting_down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	cmd.Flags().String("server-bind", "0.0.0.0", "Bind address.")
	cmd.Flags().Int("server-port", 8080, "Listen port.")

	return cmd
}

func tokenProviderFromViper() iamtoken.Provider {
	if static := strings.TrimSpace(viper.GetString("yandex.iam_token")); static != "" {
		return iamtoken.Static(static)
	}
	return iamtoken.NewMetadata(nil, viper.GetString("yandex.metadata_endpoint"))
}

func storeFromViper(ctx context.Context) (convstore.Store, error) {
	defaultModel := viper.GetString("models.default")
	switch backend := viper.GetString("storage.backend"); backend {
	case "s3":
		bucket := strings.TrimSpace(viper.GetString("storage.bucket"))
		if bucket == "" {
			return nil, fmt.Errorf("missing storage.bucket")
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(viper.GetString("storage.region")),
		)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(cfg, func(o *s3.Options) {
			if endpoint := strings.TrimSpace(viper.GetString("storage.endpoint")); endpoint != "" {
				o.BaseEndpoint = &endpoint
			}
		})
		return convstore.NewS3Store(client, bucket, defaultModel)
	case "file":
		dir := strings.TrimSpace(viper.GetString("storage.dir"))
		if dir == "" {
			return nil, fmt.Errorf("missing storage.dir")
		}
		return convstore.NewFileStore(dir, defaultModel)
	default:
		return nil, fmt.Errorf("unknown storage.backend: %s", backend)
	}
}
