package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zoeyai/zoeysight/pkg/catalog"
	"github.com/zoeyai/zoeysight/pkg/config"
	"github.com/zoeyai/zoeysight/pkg/vision"
)

// Version 版本号 (可通过 ldflags 注入)
var Version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "push":
		err = runPush(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("zoeysight-catalog v%s (vision v%s)\n", Version, vision.Version)
	case "help", "-help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("[ERROR] 未知命令: %s\n\n", os.Args[1])
		printHelp()
		os.Exit(2)
	}

	if err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		os.Exit(1)
	}
}

// loadVisionConfig 从配置文件读取引擎配置，未指定时使用默认配置文件
func loadVisionConfig(path string) (vision.Config, error) {
	manager := config.GetDefaultManager()
	if path != "" {
		manager = config.NewManagerWithFile(path)
	}
	cfg, err := manager.Load()
	if err != nil {
		return vision.Config{}, fmt.Errorf("加载配置失败: %w", err)
	}
	return cfg.Vision, nil
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	dir := fs.String("dir", "", "参考图目录")
	out := fs.String("out", "", "输出目录文件")
	configFile := fs.String("config", "", "配置文件路径 (读取 vision 段)")
	algorithm := fs.String("algorithm", "", "特征算法 (sift, orb, brisk, akaze)")
	widthUnits := fs.Float64("width-units", 0, "参考图物理宽度")
	heightUnits := fs.Float64("height-units", 0, "参考图物理高度")
	fs.Parse(args)

	if *dir == "" || *out == "" {
		return fmt.Errorf("build 需要 -dir 和 -out")
	}

	cfg, err := loadVisionConfig(*configFile)
	if err != nil {
		return err
	}
	if *algorithm != "" {
		algo, err := vision.ParseAlgorithm(*algorithm)
		if err != nil {
			return err
		}
		cfg.Extractor = cfg.Extractor.WithAlgorithm(algo)
	}

	builder, err := catalog.NewBuilder(cfg)
	if err != nil {
		return err
	}
	defer builder.Close()

	start := time.Now()
	records, err := builder.BuildDir(*dir, *widthUnits, *heightUnits)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("目录 %s 中没有参考图", *dir)
	}
	if err := catalog.Serialize(*out, records); err != nil {
		return err
	}

	for _, rec := range records {
		fmt.Printf("  %-24s %4dx%-4d %5d 特征点\n", rec.ID, rec.FrameWidth, rec.FrameHeight, len(rec.Fingerprint.Keypoints))
	}
	fmt.Printf("[INFO] 已生成 %d 个目标 -> %s (%s, 耗时 %v)\n",
		len(records), *out, cfg.Extractor.Algorithm, time.Since(start).Round(time.Millisecond))
	return nil
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("用法: zoeysight-catalog inspect <file>")
	}

	path := fs.Arg(0)
	records, err := catalog.Deserialize(path)
	if err != nil {
		return err
	}

	fmt.Printf("目录: %s\n", path)
	fmt.Printf("目标数: %d\n", len(records))
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("%-24s %-11s %-13s %-8s %s\n", "ID", "帧尺寸", "物理尺寸", "特征点", "描述子")
	for _, rec := range records {
		desc := rec.Fingerprint.Descriptors
		fmt.Printf("%-24s %-11s %-13s %-8d %dx%d\n",
			rec.ID,
			fmt.Sprintf("%dx%d", rec.FrameWidth, rec.FrameHeight),
			fmt.Sprintf("%gx%g", rec.ReferenceWidthUnits, rec.ReferenceHeightUnits),
			len(rec.Fingerprint.Keypoints),
			desc.Rows, desc.Cols,
		)
	}
	return nil
}

func runPush(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	addr := fs.String("redis", "127.0.0.1:6379", "Redis 地址，多个用逗号分隔")
	password := fs.String("password", "", "Redis 密码")
	db := fs.Int("db", 0, "Redis DB")
	name := fs.String("name", "", "目录名")
	prefix := fs.String("prefix", config.Default().Catalog.Redis.KeyPrefix, "键前缀")
	fs.Parse(args)

	if fs.NArg() != 1 || *name == "" {
		return fmt.Errorf("用法: zoeysight-catalog push -name <catalog> [-redis addr] <file>")
	}
	if err := catalog.ValidateName(*name); err != nil {
		return err
	}

	records, err := catalog.Deserialize(fs.Arg(0))
	if err != nil {
		return err
	}

	src, err := catalog.NewRedisSource(catalog.RedisConfig{
		Addrs:     strings.Split(*addr, ","),
		Password:  *password,
		DB:        *db,
		KeyPrefix: *prefix,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := src.Put(ctx, *name, records); err != nil {
		return err
	}
	fmt.Printf("[INFO] 已写入 %d 个目标 -> %s\n", len(records), src.Key(*name))
	return nil
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("zoeysight-catalog - 目标目录工具")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  zoeysight-catalog <命令> [选项]")
	fmt.Println()
	fmt.Println("命令:")
	fmt.Println("  build    由参考图目录生成目录文件")
	fmt.Println("  inspect  查看目录文件内容")
	fmt.Println("  push     将目录文件写入 Redis")
	fmt.Println("  version  显示版本信息")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  zoeysight-catalog build -dir ./refs -out ./catalogs/demo.zsc -width-units 21 -height-units 29.7")
	fmt.Println("  zoeysight-catalog inspect ./catalogs/demo.zsc")
	fmt.Println("  zoeysight-catalog push -redis 127.0.0.1:6379 -name demo ./catalogs/demo.zsc")
}
