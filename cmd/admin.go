package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	adminCmd.PersistentFlags().StringVar(&adminBaseURL, "url", "http://localhost:8080", "Base URL of a running mache serve instance")
	adminCmd.PersistentFlags().StringVar(&adminUser, "user", "", "Admin Basic-Auth username")
	adminCmd.PersistentFlags().StringVar(&adminPass, "pass", "", "Admin Basic-Auth password")
	adminCmd.AddCommand(adminShowCmd)
	adminCmd.AddCommand(adminListCmd)
	adminCmd.AddCommand(adminDeleteCmd)
}

var (
	adminBaseURL string
	adminUser    string
	adminPass    string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Read-only and maintenance operations against a running mache instance's admin surface",
}

func adminRequest(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, adminBaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if adminUser != "" || adminPass != "" {
		req.SetBasicAuth(adminUser, adminPass)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	return resp, nil
}

func printJSONResponse(resp *http.Response) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("admin request failed: %s: %s", resp.Status, string(body))
	}
	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

var adminListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known version",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adminRequest(http.MethodGet, "/admin/")
		if err != nil {
			return err
		}
		return printJSONResponse(resp)
	},
}

var adminShowCmd = &cobra.Command{
	Use:   "show <version-key>",
	Short: "Show one version's repository patch chain, names, and state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adminRequest(http.MethodGet, "/admin/"+args[0])
		if err != nil {
			return err
		}
		return printJSONResponse(resp)
	},
}

var adminDeleteCmd = &cobra.Command{
	Use:   "delete <version-key>",
	Short: "Ban a version and evict its archive view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adminRequest(http.MethodPost, "/admin/"+args[0]+"/delete")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("admin request failed: %s: %s", resp.Status, string(body))
		}
		fmt.Printf("version %s banned and evicted\n", args[0])
		return nil
	},
}
