package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"phonepilot/internal/core"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// AgentConfig holds the agent model endpoint settings.
type AgentConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	MaxSteps int
	Lang     string
	// SystemPrompt is appended to the built-in prompt as extra rules.
	SystemPrompt string
}

// ADBConfig holds device bridge settings.
type ADBConfig struct {
	// ServerSocket points at a remote adb server as host:port. Empty
	// means the local adb binary's default server.
	ServerSocket   string
	CommandTimeout time.Duration
}

// RelayConfig holds live screen relay settings.
type RelayConfig struct {
	MaxSize  int
	BitRate  int
	PortBase int
	// DataTimeout is the watchdog: no video data within it after connect
	// signals the observer to fall back to polled screenshots.
	DataTimeout time.Duration
	// ServerPath locates the scrcpy-server jar pushed to devices. Empty
	// means $PHONEPILOT_SCRCPY_SERVER or a file next to the state dir.
	ServerPath string
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server ServerConfig
	Log    LogConfig
	Agent  AgentConfig
	ADB    ADBConfig
	Relay  RelayConfig

	// Mode selects the serving transport: "http", "mcp" (stdio) or "both".
	Mode string

	StateDir      string
	RecordingsDir string
	ShutdownGrace time.Duration

	// SensitiveActions pause a run for confirmation; TakeoverAction hands
	// control to the operator.
	SensitiveActions []string
	TakeoverAction   string

	// UnlockGesture replays during the unlock stage, as
	// "swipe:x1,y1,x2,y2,ms" or "press:x,y,ms". Empty means none.
	UnlockGesture *core.Gesture
}

const (
	defaultAddr          = "0.0.0.0:7160"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultAgentBaseURL  = "https://open.bigmodel.cn/api/paas/v4"
	defaultAgentModel    = "autoglm-phone-9b"
	defaultAgentMaxSteps = 100
	defaultAgentLang     = "en"
	defaultADBTimeout    = 30 * time.Second
	defaultRelayMaxSize  = 1280
	defaultRelayBitRate  = 4_000_000
	defaultRelayPortBase = 27183
	defaultRelayTimeout  = 10 * time.Second
	defaultShutdownGrace = 5 * time.Second
)

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse reads configuration. Priority: CLI flags > environment > .env file >
// defaults.
func Parse() (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "phonepilot", ".env"))
	}
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("PHONEPILOT_ADDR", defaultAddr),
			AuthToken: getEnvString("PHONEPILOT_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnvString("PHONEPILOT_LOG_LEVEL", defaultLogLevel),
			Format: getEnvString("PHONEPILOT_LOG_FORMAT", defaultLogFormat),
		},
		Agent: AgentConfig{
			BaseURL:      getEnvString("PHONEPILOT_AGENT_BASE_URL", defaultAgentBaseURL),
			APIKey:       getEnvString("PHONEPILOT_AGENT_API_KEY", ""),
			Model:        getEnvString("PHONEPILOT_AGENT_MODEL", defaultAgentModel),
			MaxSteps:     getEnvInt("PHONEPILOT_AGENT_MAX_STEPS", defaultAgentMaxSteps),
			Lang:         getEnvString("PHONEPILOT_AGENT_LANG", defaultAgentLang),
			SystemPrompt: getEnvString("PHONEPILOT_AGENT_SYSTEM_PROMPT", ""),
		},
		ADB: ADBConfig{
			ServerSocket:   getEnvString("PHONEPILOT_ADB_SERVER_SOCKET", ""),
			CommandTimeout: getEnvDuration("PHONEPILOT_ADB_TIMEOUT", defaultADBTimeout),
		},
		Relay: RelayConfig{
			MaxSize:     getEnvInt("PHONEPILOT_RELAY_MAX_SIZE", defaultRelayMaxSize),
			BitRate:     getEnvInt("PHONEPILOT_RELAY_BIT_RATE", defaultRelayBitRate),
			PortBase:    getEnvInt("PHONEPILOT_RELAY_PORT_BASE", defaultRelayPortBase),
			DataTimeout: getEnvDuration("PHONEPILOT_RELAY_DATA_TIMEOUT", defaultRelayTimeout),
			ServerPath:  getEnvString("PHONEPILOT_SCRCPY_SERVER", ""),
		},
		Mode:           getEnvString("PHONEPILOT_MODE", "http"),
		StateDir:       getEnvString("PHONEPILOT_STATE_DIR", ""),
		RecordingsDir:  getEnvString("PHONEPILOT_RECORDINGS_DIR", ""),
		ShutdownGrace:  getEnvDuration("PHONEPILOT_SHUTDOWN_GRACE", defaultShutdownGrace),
		TakeoverAction: getEnvString("PHONEPILOT_TAKEOVER_ACTION", "Take_over"),
	}

	sensitive := getEnvString("PHONEPILOT_SENSITIVE_ACTIONS", "Sensitive,Confirm")
	for _, name := range strings.Split(sensitive, ",") {
		if name = strings.TrimSpace(name); name != "" {
			cfg.SensitiveActions = append(cfg.SensitiveActions, name)
		}
	}

	if spec := getEnvString("PHONEPILOT_UNLOCK_GESTURE", ""); spec != "" {
		gesture, err := ParseGesture(spec)
		if err != nil {
			return nil, fmt.Errorf("PHONEPILOT_UNLOCK_GESTURE: %w", err)
		}
		cfg.UnlockGesture = gesture
	}

	var addr, logLevel, stateDir, mode string
	var shutdownGrace time.Duration
	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&mode, "mode", "", "Serving mode: http, mcp or both")
	flag.StringVar(&stateDir, "state-dir", "", "Directory for database, recordings and state")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	flag.Parse()

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "shutdown-grace" {
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = filepath.Join(cfg.StateDir, "recordings")
	}
	if cfg.Agent.MaxSteps < 1 {
		cfg.Agent.MaxSteps = defaultAgentMaxSteps
	}

	return cfg, nil
}

// ParseGesture parses an unlock gesture spec: "swipe:x1,y1,x2,y2,ms" or
// "press:x,y,ms".
func ParseGesture(spec string) (*core.Gesture, error) {
	kind, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("missing gesture kind in %q", spec)
	}
	parts := strings.Split(rest, ",")
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid gesture number %q", p)
		}
		nums = append(nums, n)
	}
	switch strings.ToLower(kind) {
	case "swipe":
		if len(nums) != 5 {
			return nil, fmt.Errorf("swipe gesture needs x1,y1,x2,y2,ms")
		}
		return &core.Gesture{
			Kind: core.GestureSwipe,
			X1:   nums[0], Y1: nums[1], X2: nums[2], Y2: nums[3],
			Duration: time.Duration(nums[4]) * time.Millisecond,
		}, nil
	case "press":
		if len(nums) != 3 {
			return nil, fmt.Errorf("press gesture needs x,y,ms")
		}
		return &core.Gesture{
			Kind: core.GestureLongPress,
			X1:   nums[0], Y1: nums[1], X2: nums[0], Y2: nums[1],
			Duration: time.Duration(nums[2]) * time.Millisecond,
		}, nil
	}
	return nil, fmt.Errorf("unknown gesture kind %q", kind)
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "phonepilot")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
