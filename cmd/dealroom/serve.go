package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"dealroom/internal/app"
	"dealroom/internal/config"
	"dealroom/internal/notify"
	"dealroom/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath, grpcAddr string
	var dispatchEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the event dispatcher and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
				sc := rt.Config.Server
				if cmd.Flags().Changed("addr") || sc.Addr == "" {
					sc.Addr = addr
				}
				if cmd.Flags().Changed("base-path") || sc.BasePath == "" {
					sc.BasePath = basePath
				}
				if cmd.Flags().Changed("grpc-addr") {
					sc.GRPCHealthAddr = grpcAddr
				}
				if secret := viper.GetString("jwt-secret"); secret != "" {
					sc.JWTSecret = secret
				}
				return serve(ctx, rt, sc, dispatchEvery)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC health listen address (empty disables)")
	cmd.Flags().DurationVar(&dispatchEvery, "dispatch-interval", 2*time.Second, "event dispatcher poll interval")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (env DEALROOM_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func serve(ctx context.Context, rt *app.Runtime, sc config.ServerConfig, dispatchEvery time.Duration) error {
	logger := rt.Logger
	if sc.JWTSecret == "" && !sc.AllowLegacyActorHeader {
		return fmt.Errorf("DEALROOM_JWT_SECRET (or server.jwt_secret) is required for bearer auth")
	}
	handler, err := server.New(server.Config{
		Engine:   rt.Engine,
		BasePath: sc.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:              sc.JWTSecret,
			AllowLegacyActorHeader: sc.AllowLegacyActorHeader,
			Logger:                 logger,
		},
		CORSOrigins: sc.CORSOrigins,
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{Addr: sc.Addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	sinks, closer, err := notify.SinksFromConfig(rt.Config, logger)
	if err != nil {
		return fmt.Errorf("event sinks: %w", err)
	}
	defer closer.Close()
	dispatcher := notify.NewDispatcher(rt.Engine.Repo, sinks, logger, dispatchEvery)

	errCh := make(chan error, 3)
	go func() {
		logger.Info("http server started", "module", "serve", "operation", "listen", "outcome", "ok", "addr", sc.Addr, "base_path", sc.BasePath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	defer cancelDispatch()
	go func() {
		if err := dispatcher.Run(dispatchCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if sc.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", sc.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("listen gRPC: %w", err)
		}
		grpcServer = grpc.NewServer()
		healthSrv := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		go func() {
			logger.Info("grpc health server started", "module", "serve", "operation", "listen", "outcome", "ok", "addr", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	fmt.Printf("Serving Dealroom API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", sc.Addr, sc.BasePath, sc.BasePath)
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", "module", "serve", "operation", "shutdown", "outcome", "ok")
	case runErr = <-errCh:
		logger.Error("server failure", "module", "serve", "operation", "run", "outcome", "error", "error", runErr)
	}

	cancelDispatch()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "module", "serve", "operation", "shutdown", "outcome", "error", "error", err)
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return runErr
}
