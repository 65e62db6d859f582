package refdata

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchlist-screen/internal/model"
)

// DecodeJSONArray decodes a JSON array streaming, sending each element to a
// channel. Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}

		delim, ok := tok.(json.Delim)
		if !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}

			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// entityDocument is the object form of a reference file.
type entityDocument struct {
	Entities []model.Entity `json:"entities" yaml:"entities"`
}

// ReadJSONEntities accepts either a top-level array of entities or an
// object with an "entities" array.
func ReadJSONEntities(ctx context.Context, r io.Reader) ([]model.Entity, error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "json: peek")
	}

	if first == '{' {
		var doc entityDocument
		if err := json.NewDecoder(br).Decode(&doc); err != nil {
			return nil, eris.Wrap(err, "json: decode object")
		}
		return normalizeEntities(doc.Entities), nil
	}

	var out []model.Entity
	itemCh, errCh := DecodeJSONArray[model.Entity](ctx, br)
	for e := range itemCh {
		out = append(out, e)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return normalizeEntities(out), nil
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(rune(b[0])) {
			return b[0], nil
		}
		if _, err := br.ReadByte(); err != nil {
			return 0, err
		}
	}
}
