package tools

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
)

// RegisterBuiltins регистрирует локальные демонстрационные инструменты.
// file_manager читает реальную ФС, остальные имитируют работу.
func RegisterBuiltins(r *Registry) error {
	for _, t := range Builtins() {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func Builtins() []Tool {
	return []Tool{
		{
			Name:        "file_manager",
			Description: "Read, list and inspect files on the local file system",
			Category:    "files",
			RiskLevel:   domain.RiskLow,
			Parameters: []Parameter{
				{Name: "path", Type: TypeString, Description: "File or directory path", Required: true},
				{Name: "max_bytes", Type: TypeInteger, Description: "Read limit", Default: 4096},
			},
			RequiredCapabilities: []string{"file_system_access"},
			Handler:              HandlerFunc(fileManager),
		},
		{
			Name:        "window_manager",
			Description: "Open, close, focus and arrange application windows",
			Category:    "desktop",
			RiskLevel:   domain.RiskMedium,
			Parameters: []Parameter{
				{Name: "window", Type: TypeString, Description: "Window title or application name", Required: true},
			},
			RequiredCapabilities: []string{"window_control"},
			Handler:              HandlerFunc(simulated("window_manager")),
		},
		{
			Name:        "package_manager",
			Description: "Search, install and remove software packages",
			Category:    "system",
			RiskLevel:   domain.RiskHigh,
			Parameters: []Parameter{
				{Name: "package", Type: TypeString, Description: "Package name", Required: true},
				{Name: "manager", Type: TypeString, Description: "Backend", Default: "auto", Enum: []any{"auto", "apt", "brew", "winget"}},
			},
			RequiredCapabilities: []string{"package_install"},
			Handler:              HandlerFunc(simulated("package_manager")),
		},
		{
			Name:        "system_control",
			Description: "Shutdown, reboot or lock the machine",
			Category:    "system",
			RiskLevel:   domain.RiskCritical,
			Parameters: []Parameter{
				{Name: "delay_seconds", Type: TypeInteger, Description: "Delay before the operation", Default: 0},
			},
			RequiredCapabilities: []string{"system_power"},
			Handler:              HandlerFunc(simulated("system_control")),
		},
	}
}

func fileManager(ctx context.Context, call Call) (any, error) {
	path, _ := call.Params["path"].(string)
	path = filepath.Clean(path)

	switch call.Action {
	case "list":
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return map[string]any{"path": path, "entries": names}, nil
	case "info", "stat":
		fi, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"path": path, "size": fi.Size(), "dir": fi.IsDir(), "modified": fi.ModTime()}, nil
	case "read", "", "execute_file_manager":
		limit := 4096
		switch v := call.Params["max_bytes"].(type) {
		case int:
			limit = v
		case float64:
			limit = int(v)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf := make([]byte, limit)
		n, err := f.Read(buf)
		if err != nil && n == 0 {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return map[string]any{"path": path, "content": string(buf[:n]), "truncated": n == limit}, nil
	default:
		return nil, fmt.Errorf("action %s not supported by file_manager", call.Action)
	}
}

// simulated имитирует задержку 20-120мс и возвращает эхо вызова
func simulated(tool string) func(ctx context.Context, call Call) (any, error) {
	return func(ctx context.Context, call Call) (any, error) {
		latency := time.Duration(20+rand.IntN(100)) * time.Millisecond
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return map[string]any{
			"status": "simulated",
			"tool":   tool,
			"action": call.Action,
			"os":     runtime.GOOS,
			"params": call.Params,
		}, nil
	}
}
