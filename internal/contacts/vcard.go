package contacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/emersion/go-vcard"
)

// ImportVCF loads contacts from a vCard file, upserting by name and
// recording every TEL value as a phone fact. Cards without an FN are
// skipped. Returns the number of contacts imported.
func (s *Store) ImportVCF(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open vcf: %w", err)
	}
	defer f.Close()

	n, err := s.ImportVCards(f)
	if err != nil {
		return n, fmt.Errorf("import %s: %w", path, err)
	}
	s.logger.Info("imported contacts", "path", path, "count", n)
	return n, nil
}

// ImportVCards reads a stream of vCards and upserts each one.
func (s *Store) ImportVCards(r io.Reader) (int, error) {
	dec := vcard.NewDecoder(r)
	count := 0

	for {
		card, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("decode card: %w", err)
		}

		name := strings.TrimSpace(card.PreferredValue(vcard.FieldFormattedName))
		if name == "" {
			s.logger.Debug("skipping card without FN")
			continue
		}

		c, err := s.Upsert(name, "")
		if err != nil {
			return count, fmt.Errorf("upsert %s: %w", name, err)
		}

		for _, tel := range card.Values(vcard.FieldTelephone) {
			tel = strings.TrimSpace(tel)
			if tel == "" {
				continue
			}
			if err := s.SetFact(c.ID, FactPhone, tel); err != nil {
				return count, fmt.Errorf("set phone for %s: %w", name, err)
			}
		}
		count++
	}
	return count, nil
}
