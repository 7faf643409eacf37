package util

import (
	"github.com/ValentinKolb/dCloud/rpc/client"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (DCLOUD_<flag>)
	EnvPrefix = "dcloud"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SplitList splits a comma-separated list and drops empty entries
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files and lets viper read DCLOUD_ environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Admin Client
// --------------------------------------------------------------------------

// SetupClientFlags adds the admin API connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "admin"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The admin endpoint of the node to talk to"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultClientTimeout, WrapString("The timeout of a single request"))

	key = "retries"
	cmd.PersistentFlags().Int(key, common.DefaultClientRetries, WrapString("How many times to retry a read that could not reach the node"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() common.ClientConfig {
	return common.ClientConfig{
		Endpoint: viper.GetString("admin"),
		Timeout:  viper.GetDuration("timeout"),
		Retries:  viper.GetInt("retries"),
	}
}

// NewClient binds the flags of cmd and creates an admin client from them
func NewClient(cmd *cobra.Command) (*client.Client, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	return client.NewClient(GetClientConfig())
}

// Timeout returns the configured request timeout
func Timeout() time.Duration {
	return viper.GetDuration("timeout")
}
