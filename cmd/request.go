package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/model"
)

var (
	apiURL   string
	apiToken string
	sub      dispatch.Submission
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Emergency request commands",
}

var requestSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an emergency request to a running engine",
	RunE:  runRequestSubmit,
}

var requestGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show the status of a request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequestGet,
}

var requestCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel an active request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRequestCancel,
}

func init() {
	requestCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "engine API base URL")
	requestCmd.PersistentFlags().StringVar(&apiToken, "token", "", "API bearer token")

	f := requestSubmitCmd.Flags()
	f.StringVar(&sub.BloodType, "blood-type", "", "recipient blood type, e.g. O-")
	f.IntVar(&sub.Quantity, "units", 1, "units needed")
	f.StringVar(&sub.Urgency, "urgency", "normal", "critical, high or normal")
	f.StringVar(&sub.Hospital.Name, "hospital", "", "hospital name")
	f.Float64Var(&sub.Hospital.Location.Lat, "lat", 0, "hospital latitude")
	f.Float64Var(&sub.Hospital.Location.Lon, "lon", 0, "hospital longitude")
	f.StringVar(&sub.Hospital.PinCode, "pin", "", "hospital pin code")
	f.StringVar(&sub.Requester.Name, "requester", "", "requester name")
	f.StringVar(&sub.Requester.Phone, "phone", "", "requester phone")
	f.StringVar(&sub.Notes, "notes", "", "free text notes")
	_ = requestSubmitCmd.MarkFlagRequired("blood-type")
	_ = requestSubmitCmd.MarkFlagRequired("hospital")

	requestCmd.AddCommand(requestSubmitCmd, requestGetCmd, requestCancelCmd)
	rootCmd.AddCommand(requestCmd)
}

func runRequestSubmit(cmd *cobra.Command, _ []string) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	var st dispatch.Status
	if err := callAPI(cmd.Context(), http.MethodPost, "/api/requests", body, &st); err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), st)
}

func runRequestGet(cmd *cobra.Command, args []string) error {
	var st dispatch.Status
	if err := callAPI(cmd.Context(), http.MethodGet, "/api/requests/"+args[0], nil, &st); err != nil {
		return err
	}
	return printStatus(cmd.OutOrStdout(), st)
}

func runRequestCancel(cmd *cobra.Command, args []string) error {
	if err := callAPI(cmd.Context(), http.MethodPost, "/api/requests/"+args[0]+"/cancel", nil, nil); err != nil {
		return err
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], model.StatusCancelled)
	return err
}

func printStatus(w io.Writer, st dispatch.Status) error {
	_, err := fmt.Fprintf(w, "%s %s %s %d/%d units, %d wave(s), radius %.1fkm\n",
		st.RequestID, st.Status, st.BloodType, st.FulfilledUnits, st.RequestedUnits, st.Waves, st.RadiusKm)
	return err
}

// callAPI sends body to the engine and decodes a 2xx reply into out.
func callAPI(ctx context.Context, method, path string, body []byte, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(apiURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
