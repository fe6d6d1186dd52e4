package coerce

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"github.com/scottdurow/dataverseify/pkg/metadata"
)

var errNotComparable = errors.New("party list attributes cannot be compared")

// LiteralToWire coerces a query condition literal to the canonical text of the
// attribute's declared type, so that mismatches are caught before the query
// is sent.
func (e *Engine) LiteralToWire(logicalName, attribute, text string) (string, error) {
	tag, err := e.registry.AttributeType(logicalName, attribute)
	if err != nil {
		return "", err
	}
	f := field{logicalName: metadata.NormalizeTypeName(logicalName), attribute: attribute}
	v, err := e.canonicalLiteral(tag, text)
	if err != nil {
		return "", f.validationError(fmt.Sprintf("literal %q does not fit %s", text, tag), err)
	}
	return v, nil
}

func (e *Engine) canonicalLiteral(tag metadata.AttributeType, text string) (string, error) {
	switch tag {
	case metadata.TypeInteger, metadata.TypeOptionset:
		i, err := parseInt32(strings.TrimSpace(text))
		if err != nil {
			return "", err
		}
		return strconv.Itoa(i), nil
	case metadata.TypeDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return "", errNotNumeric
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case metadata.TypeDecimal:
		d, err := decodeDecimal(text)
		if err != nil {
			return "", err
		}
		return d.Text('f'), nil
	case metadata.TypeBigInt:
		b, err := decodeBigInt(text)
		if err != nil {
			return "", err
		}
		return b.String(), nil
	case metadata.TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case metadata.TypeString:
		return text, nil
	case metadata.TypeGuid, metadata.TypeLookup:
		id, err := uuid.Parse(strings.TrimSpace(text))
		if err != nil {
			return "", err
		}
		return id.String(), nil
	case metadata.TypeDateOnly:
		t, err := decodeDateOnly(strings.TrimSpace(text))
		if err != nil {
			return "", err
		}
		return t.Format(dateLayout), nil
	case metadata.TypeDateAndTime:
		s := strings.TrimSpace(text)
		if t, err := time.ParseInLocation(dateLayout, s, e.location()); err == nil {
			return t.UTC().Format(time.RFC3339), nil
		}
		return encodeDateTime(s)
	case metadata.TypePartyList:
		return "", errNotComparable
	}
	return "", fmt.Errorf("unsupported attribute type %q", tag)
}

// CompareWire orders a stored wire value against a canonical literal of the
// same tag. It returns false when the values cannot be compared, for example
// when the stored value is null or malformed.
func CompareWire(tag metadata.AttributeType, stored any, literal string) (int, bool) {
	if stored == nil {
		return 0, false
	}
	switch tag {
	case metadata.TypeInteger, metadata.TypeOptionset:
		a, err1 := decodeInteger(stored)
		b, err2 := parseInt32(literal)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return cmpInt(a, b), true
	case metadata.TypeDouble:
		a, err1 := decodeDouble(stored)
		b, err2 := strconv.ParseFloat(literal, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	case metadata.TypeDecimal:
		a, err1 := decodeDecimal(stored)
		b, _, err2 := apd.NewFromString(literal)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return a.Cmp(b), true
	case metadata.TypeBigInt:
		a, err := decodeBigInt(stored)
		b, ok := new(big.Int).SetString(literal, 10)
		if err != nil || !ok {
			return 0, false
		}
		return a.Cmp(b), true
	case metadata.TypeBoolean:
		a, ok := stored.(bool)
		b, err := strconv.ParseBool(literal)
		if !ok || err != nil {
			return 0, false
		}
		return cmpInt(boolInt(a), boolInt(b)), true
	case metadata.TypeString:
		a, ok := stored.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(strings.ToLower(a), strings.ToLower(literal)), true
	case metadata.TypeGuid:
		a, err1 := decodeGuid(stored)
		b, err2 := uuid.Parse(literal)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return strings.Compare(a.String(), b.String()), true
	case metadata.TypeLookup:
		ref, err1 := decodeReference(stored)
		b, err2 := uuid.Parse(literal)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return strings.Compare(ref.ID, b.String()), true
	case metadata.TypeDateOnly:
		a, err1 := decodeDateOnly(stored)
		b, err2 := decodeDateOnly(literal)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return a.Compare(b), true
	case metadata.TypeDateAndTime:
		a, err1 := decodeDateTime(stored)
		b, err2 := decodeDateTime(literal)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return a.Compare(b), true
	}
	return 0, false
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
