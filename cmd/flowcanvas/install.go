package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const mermaidASCIIVersion = "1.1.0"

// SHA-256 checksums for mermaid-ascii v1.1.0 release assets.
var mermaidASCIIChecksums = map[string]string{
	"mermaid-ascii_Darwin_arm64.tar.gz":  "068d2ff869d4921655cab471500fffd8c3ed28155b100518ed3cf3835d53d3d0",
	"mermaid-ascii_Darwin_x86_64.tar.gz": "0cd4c9c01a03284fe866f39a1ce1aaee1e6a2fbd91deedc4ec254cb87622eec8",
	"mermaid-ascii_Linux_arm64.tar.gz":   "3b7d0a95141bfbca838e445ea802ffb7fba8873b3c4af498482c84f83526f2db",
	"mermaid-ascii_Linux_x86_64.tar.gz":  "838ea93d561b3bc83aa15531c6ed7d2d261a8edc521d5484f7e91fe831cc4c65",
}

func installCmd() *cobra.Command {
	cfg := defaultConfig()
	var skipTools bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write settings.toml, fetch mermaid-ascii and reload a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := settingsPath()
			if err := writeConfig(path, cfg); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Printf("%s config written to %s\n", Good.Sprint("✓"), path)

			if !skipTools {
				installMermaidASCII(binDir())
			}

			if signalRunningServer() {
				return nil
			}
			fmt.Println(Subtle.Sprint("  Start the server with `flowcanvas serve`"))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address")
	f.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "notification log database path")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	f.StringVar(&cfg.AuditSchedule, "audit-schedule", cfg.AuditSchedule, "cron spec for the integrity audit")
	f.BoolVar(&cfg.Panel, "panel", cfg.Panel, "enable the HTTP panel")
	f.BoolVar(&skipTools, "skip-tools", false, "do not download mermaid-ascii")
	return cmd
}

// signalRunningServer sends SIGHUP to a running flowcanvas server (via pidfile).
// Returns true if the server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("%s signaled running server (PID %d) to reload configuration\n", Info.Sprint("↻"), pid)
	return true
}

// installMermaidASCII downloads the mermaid-ascii binary to binDir.
// Failures only warn: ASCII diagrams fall back to the built-in renderer.
func installMermaidASCII(binDir string) {
	destPath := filepath.Join(binDir, "mermaid-ascii")
	if _, err := os.Stat(destPath); err == nil {
		fmt.Printf("mermaid-ascii already installed at %s\n", destPath)
		return
	}

	warn := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, "%s %s; ASCII diagrams will use the built-in renderer\n",
			Warn.Sprint("warning:"), fmt.Sprintf(format, args...))
	}

	assetName, err := mermaidASCIIAssetName(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		warn("%v", err)
		return
	}
	url := fmt.Sprintf("https://github.com/AlexanderGrooff/mermaid-ascii/releases/download/%s/%s",
		mermaidASCIIVersion, assetName)

	fmt.Printf("Downloading mermaid-ascii %s...\n", mermaidASCIIVersion)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		warn("cannot create %s: %v", binDir, err)
		return
	}

	client := &http.Client{Timeout: 60 * time.Second}
	tmpPath, err := downloadToTempFile(url, binDir, client)
	if err != nil {
		warn("download failed: %v", err)
		return
	}
	defer os.Remove(tmpPath)

	expected, ok := mermaidASCIIChecksums[assetName]
	if !ok {
		warn("no known checksum for %s", assetName)
		return
	}
	actual, err := sha256File(tmpPath)
	if err != nil {
		warn("cannot compute checksum: %v", err)
		return
	}
	if actual != expected {
		warn("checksum mismatch for %s (expected %s, got %s)", assetName, expected, actual)
		return
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		warn("cannot open archive: %v", err)
		return
	}
	defer f.Close()

	if err := extractTarGz(f, binDir, "mermaid-ascii"); err != nil {
		_ = os.Remove(destPath)
		warn("extraction failed: %v", err)
		return
	}
	if err := os.Chmod(destPath, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "%s chmod failed: %v\n", Warn.Sprint("warning:"), err)
	}
	fmt.Printf("%s mermaid-ascii installed to %s\n", Good.Sprint("✓"), destPath)
}

// mermaidASCIIAssetName returns the GitHub release asset name for a platform.
func mermaidASCIIAssetName(goos, goarch string) (string, error) {
	var osName string
	switch goos {
	case "darwin":
		osName = "Darwin"
	case "linux":
		osName = "Linux"
	default:
		return "", fmt.Errorf("mermaid-ascii: unsupported OS %q", goos)
	}

	var archName string
	switch goarch {
	case "amd64":
		archName = "x86_64"
	case "arm64":
		archName = "arm64"
	default:
		return "", fmt.Errorf("mermaid-ascii: unsupported architecture %q", goarch)
	}
	return fmt.Sprintf("mermaid-ascii_%s_%s.tar.gz", osName, archName), nil
}

// extractTarGz extracts one regular file, matched by base name, into destDir.
func extractTarGz(r io.Reader, destDir, targetName string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("file %q not found in archive", targetName)
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}
		if filepath.Base(hdr.Name) != targetName || hdr.Typeflag != tar.TypeReg {
			continue
		}

		destPath := filepath.Join(destDir, targetName)
		f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return fmt.Errorf("create %s: %w", destPath, err)
		}
		if _, err := io.Copy(f, tr); err != nil { //nolint:gosec // bounded by tar header size
			f.Close()
			return fmt.Errorf("write %s: %w", destPath, err)
		}
		return f.Close()
	}
}
