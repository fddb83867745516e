package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gogrpc "google.golang.org/grpc"

	"github.com/zoeyai/zoeysight/internal/logger"
	"github.com/zoeyai/zoeysight/pkg/catalog"
	"github.com/zoeyai/zoeysight/pkg/config"
	zsgrpc "github.com/zoeyai/zoeysight/pkg/grpc"
	"github.com/zoeyai/zoeysight/pkg/process"
	"github.com/zoeyai/zoeysight/pkg/server"
	"github.com/zoeyai/zoeysight/pkg/session"
	"github.com/zoeyai/zoeysight/pkg/vision"
	"github.com/zoeyai/zoeysight/pkg/vision/cv"
)

// 版本信息 (可通过 ldflags 注入)
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 命令行参数
	var (
		configFile  = flag.String("config", "", "配置文件路径 (默认 ~/.zoeysight/config.yaml)")
		listen      = flag.String("listen", "", "HTTP 监听地址 (例: :8080)")
		grpcListen  = flag.String("grpc-listen", "", "gRPC 监听地址 (例: :50051)")
		catalogDir  = flag.String("catalog-dir", "", "目录文件所在目录 (file 驱动)")
		logLevel    = flag.String("log-level", "", "日志级别 (debug, info, warn, error)")
		pidFile     = flag.String("pid-file", "", "PID 文件路径，防止重复启动")
		saveConfig  = flag.Bool("save", false, "保存配置到本地")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}
	if *showHelp {
		printHelp()
		return
	}

	// 加载配置
	manager := config.GetDefaultManager()
	if *configFile != "" {
		manager = config.NewManagerWithFile(*configFile)
	}
	cfg, err := manager.Load()
	if err != nil {
		fmt.Printf("[ERROR] 加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 命令行参数优先级高于配置文件
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *grpcListen != "" {
		cfg.Server.GRPCListen = *grpcListen
	}
	if *catalogDir != "" {
		cfg.Catalog.Driver = config.DriverFile
		cfg.Catalog.Dir = *catalogDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *pidFile != "" {
		cfg.Server.PIDFile = *pidFile
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("[ERROR] 配置无效: %v\n", err)
		os.Exit(1)
	}

	if *saveConfig {
		if err := manager.Save(cfg); err != nil {
			fmt.Printf("[WARN] 保存配置失败: %v\n", err)
		} else {
			fmt.Printf("[INFO] 配置已保存到 %s\n", manager.GetConfigFile())
		}
	}

	log, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Printf("[ERROR] 创建日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("服务异常退出: %v", err)
		log.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("ZoeySight v%s 启动, catalog driver=%s", Version, cfg.Catalog.Driver)

	if cfg.Server.PIDFile != "" {
		release, err := process.AcquirePIDFile(cfg.Server.PIDFile)
		if err != nil {
			return err
		}
		defer func() {
			if err := release(); err != nil {
				log.Warn("删除 PID 文件失败: %v", err)
			}
		}()
	}

	src, err := cfg.Catalog.NewSource()
	if err != nil {
		return err
	}
	if rs, ok := src.(*catalog.RedisSource); ok {
		defer rs.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rs.Ping(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis 不可用: %w", err)
		}
	}

	// 每个会话独占一条流水线
	visionCfg := cfg.Vision
	factory := func() (session.Recognizer, error) {
		p, err := cv.NewPipeline(visionCfg)
		if err != nil {
			return nil, err
		}
		p.OnTargetError = func(targetID string, err error) {
			log.Debug("目标 %s 处理失败: %v", targetID, err)
		}
		return p, nil
	}
	// 提前暴露配置错误
	rec, err := factory()
	if err != nil {
		return fmt.Errorf("初始化识别流水线失败: %w", err)
	}
	rec.Close()

	srv, err := server.New(server.Options{
		Source:        src,
		NewRecognizer: factory,
		Session:       cfg.Session,
		Logger:        log,
		Version:       Version,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("HTTP 服务监听 %s", cfg.Server.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP 服务错误: %w", err)
		}
	}()

	var grpcSrv *gogrpc.Server
	if cfg.Server.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCListen)
		if err != nil {
			return fmt.Errorf("gRPC 监听失败: %w", err)
		}
		grpcSrv = gogrpc.NewServer(gogrpc.MaxRecvMsgSize(cfg.Session.ChunkSize + 1024))
		zsgrpc.NewService(srv.NewSession, log).WithBaseContext(srv.Context()).Register(grpcSrv)
		go func() {
			log.Info("gRPC 服务监听 %s", cfg.Server.GRPCListen)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("gRPC 服务错误: %w", err)
			}
		}()
	}

	// 等待中断信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("收到信号 %s，正在关闭...", sig)
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn("HTTP 关闭出错: %v", err)
	}
	// 会话收到 1001 关闭帧
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("等待会话结束超时: %v", err)
	}
	if grpcSrv != nil {
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			grpcSrv.Stop()
		}
	}

	log.Info("服务已停止")
	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("ZoeySight v%s\n", Version)
	fmt.Printf("Vision: v%s\n", vision.Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("ZoeySight - 实时图像目标识别服务")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  zoeysight [选项]")
	fmt.Println()
	fmt.Println("选项:")
	fmt.Println("  -config string       配置文件路径")
	fmt.Println("  -listen string       HTTP 监听地址 (例: :8080)")
	fmt.Println("  -grpc-listen string  gRPC 监听地址 (例: :50051)")
	fmt.Println("  -catalog-dir string  目录文件所在目录")
	fmt.Println("  -log-level string    日志级别")
	fmt.Println("  -pid-file string     PID 文件路径")
	fmt.Println("  -save                保存配置到本地")
	fmt.Println("  -version             显示版本信息")
	fmt.Println("  -help                显示帮助信息")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  # 使用本地目录启动")
	fmt.Println("  zoeysight -catalog-dir ./catalogs -listen :8080")
	fmt.Println()
	fmt.Println("  # 使用指定配置文件")
	fmt.Println("  zoeysight -config /etc/zoeysight/config.yaml")
	fmt.Println()
	fmt.Printf("配置文件位置: %s\n", config.GetDefaultManager().GetConfigFile())
}
