package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/screening"
)

var (
	screenFile    string
	screenText    string
	screenLang    string
	screenPersons []string
	screenOrgs    []string
	screenOutput  string
	screenNoColor bool
)

// screenInput is a screening request that may carry plain mentions instead
// of role-tagged tokens.
type screenInput struct {
	screening.Request
	Mentions []screening.Mention `json:"mentions,omitempty"`
}

// toRequest resolves mentions into tokens when no tokens were supplied.
func (in screenInput) toRequest() screening.Request {
	req := in.Request
	if len(req.Tokens) == 0 && len(in.Mentions) > 0 {
		req.Tokens = screening.MentionTokens(req.Text, in.Mentions)
	}
	return req
}

// decodeScreenInput reads one JSON request.
func decodeScreenInput(r io.Reader) (screenInput, error) {
	var in screenInput
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return in, eris.Wrap(err, "decode screening request")
	}
	return in, nil
}

// flagInput builds a request from --text, --person and --org.
func flagInput(text, lang string, persons, orgs []string) screenInput {
	in := screenInput{Request: screening.Request{Text: text, Language: lang}}
	for _, p := range persons {
		in.Mentions = append(in.Mentions, screening.Mention{Name: p, Kind: model.SignalPerson})
	}
	for _, o := range orgs {
		in.Mentions = append(in.Mentions, screening.Mention{Name: o, Kind: model.SignalOrganization})
	}
	return in
}

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Screen one text and print the decision as JSON",
	Example: `  watchlist-screen screen --text "Оплата Ivan Petrov ИНН 500100732259" --person "Ivan Petrov"
  echo '{"text":"...","mentions":[{"name":"OOO Romashka","kind":"organization"}]}' | watchlist-screen screen -f -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var in screenInput
		switch {
		case screenFile == "-":
			var err error
			if in, err = decodeScreenInput(cmd.InOrStdin()); err != nil {
				return err
			}
		case screenFile != "":
			f, err := os.Open(screenFile)
			if err != nil {
				return eris.Wrapf(err, "open %s", screenFile)
			}
			in, err = decodeScreenInput(f)
			_ = f.Close()
			if err != nil {
				return err
			}
		case strings.TrimSpace(screenText) != "":
			in = flagInput(screenText, screenLang, screenPersons, screenOrgs)
		default:
			return eris.New("one of --text or --file is required")
		}

		if screenOutput != "json" && screenOutput != "text" {
			return eris.Errorf("unsupported output %q (json or text)", screenOutput)
		}

		a, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := a.screener.Screen(ctx, in.toRequest())
		if err != nil {
			return eris.Wrap(err, "screen")
		}

		switch screenOutput {
		case "text":
			_, err = fmt.Fprint(cmd.OutOrStdout(), newTextFormatter(screenNoColor).Format(resp))
			return err
		default:
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
	},
}

func init() {
	screenCmd.Flags().StringVarP(&screenFile, "file", "f", "", "JSON request file (- for stdin)")
	screenCmd.Flags().StringVar(&screenText, "text", "", "text to screen")
	screenCmd.Flags().StringVar(&screenLang, "lang", "", "language code of the text")
	screenCmd.Flags().StringArrayVar(&screenPersons, "person", nil, "person name mentioned in the text (repeatable)")
	screenCmd.Flags().StringArrayVar(&screenOrgs, "org", nil, "organization name mentioned in the text (repeatable)")
	screenCmd.Flags().StringVarP(&screenOutput, "output", "o", "json", "output format: json or text")
	screenCmd.Flags().BoolVar(&screenNoColor, "no-color", false, "disable colors in text output")
	rootCmd.AddCommand(screenCmd)
}
