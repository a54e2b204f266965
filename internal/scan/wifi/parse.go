package wifi

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseNmcli extracts network names from
// `nmcli -t -m tabular -f SSID device wifi` output. Terse mode escapes
// colons and backslashes; hidden networks show up as empty lines.
func ParseNmcli(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || line == "--" {
			continue
		}
		names = append(names, unescapeNmcli(line))
	}
	return dedupe(names)
}

func unescapeNmcli(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ParseNmcliRadio reports whether `nmcli radio wifi` says the radio is on.
func ParseNmcliRadio(out string) bool {
	return strings.TrimSpace(out) == "enabled"
}

// ParseNetsh extracts network names from `netsh wlan show networks` output,
// i.e. the values of the "SSID n : name" lines.
func ParseNetsh(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "SSID") {
			continue
		}
		_, name, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		names = append(names, strings.TrimSpace(name))
	}
	return dedupe(names)
}

// ParseAirport extracts the SSID_STR values from `airport -s -x` plist
// output.
func ParseAirport(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var names []string
	var inKey, wantValue, inValue bool
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse airport plist: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "key":
				inKey, wantValue = true, false
			case wantValue && t.Name.Local == "string":
				inValue = true
			default:
				wantValue = false
			}
		case xml.EndElement:
			if t.Name.Local == "key" {
				inKey = false
			}
			if inValue && t.Name.Local == "string" {
				inValue, wantValue = false, false
			}
		case xml.CharData:
			switch {
			case inKey:
				wantValue = strings.TrimSpace(string(t)) == "SSID_STR"
			case inValue:
				names = append(names, string(t))
			}
		}
	}
	return dedupe(names), nil
}
