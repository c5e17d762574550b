package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/aretw0/chatflow"
	"github.com/aretw0/chatflow/internal/logging"
	"github.com/aretw0/chatflow/internal/template"
	httpAdapter "github.com/aretw0/chatflow/pkg/adapters/http"
	redisAdapter "github.com/aretw0/chatflow/pkg/adapters/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts the conversation engine in server mode, exposing turns, session inspection, health, and metrics over HTTP.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("templates")
		port, _ := cmd.Flags().GetString("port")
		redisAddr, _ := cmd.Flags().GetString("redis")
		logger := logging.New(logLevel(cmd))

		source := template.NewDirSource(dir)
		templates, err := source.List()
		if err != nil {
			fmt.Printf("Error listing templates: %v\n", err)
			os.Exit(1)
		}
		if len(templates) == 0 {
			fmt.Printf("No template files found in %s\n", dir)
			os.Exit(1)
		}

		opts := []chatflow.Option{chatflow.WithLogger(logger)}
		if redisAddr != "" {
			client := backend.NewClient(&backend.Options{Addr: redisAddr})
			opts = append(opts,
				chatflow.WithStore(redisAdapter.NewFromClient(client)),
				chatflow.WithLocker(redisAdapter.NewLocker(client, "chatflow:lock:")),
			)
		}

		engine, err := chatflow.New(source, templates, opts...)
		if err != nil {
			fmt.Printf("Error initializing engine: %v\n", err)
			os.Exit(1)
		}

		cleanupCtx, stopCleanup := context.WithCancel(context.Background())
		defer stopCleanup()
		engine.StartCleanup(cleanupCtx)

		srv := &http.Server{
			Addr:    ":" + port,
			Handler: httpAdapter.NewHandler(engine, logger, engine.Registry()),
		}

		serverErrors := make(chan error, 1)
		go func() {
			fmt.Printf("Starting chatflow server on %s\n", srv.Addr)
			fmt.Printf("Serving templates from: %s (%d flows)\n", dir, len(templates))
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			fmt.Printf("\nStart shutdown... Signal: %v\n", sig)
			stopCleanup()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
				if err := srv.Close(); err != nil {
					fmt.Printf("Error killing server: %v\n", err)
				}
			}
			fmt.Println("chatflow server stopped gracefully")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	serveCmd.Flags().String("redis", "", "Redis address for shared session storage (e.g. localhost:6379)")
}
