package units

import (
	"fmt"
	"strconv"
	"strings"
)

func handleOverflow(val int64, mult int64) (int64, error) {
	result := val * mult
	if val == 0 || mult == 0 || val == 1 || mult == 1 {
		return result, nil
	}

	if val != 0 && (result/val) != mult {
		return -1, fmt.Errorf("Overflow multiplying %d with %d", val, mult)
	}

	return result, nil
}

// ParseByteSizeString parses a size string in bytes (e.g. 200kB or 5GiB)
// into the number of bytes it represents. Plain numbers are bytes.
func ParseByteSizeString(input string) (int64, error) {
	if input == "" {
		return 0, nil
	}

	input = strings.TrimSpace(input)

	suffixLen := 0
	for i := len(input) - 1; i >= 0; i-- {
		if input[i] >= '0' && input[i] <= '9' {
			break
		}

		suffixLen++
	}

	value := strings.TrimSpace(input[:len(input)-suffixLen])
	suffix := strings.TrimSpace(input[len(input)-suffixLen:])

	valueInt, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return -1, fmt.Errorf("Invalid integer: %q", input)
	}

	if valueInt < 0 {
		return -1, fmt.Errorf("Invalid value: %d", valueInt)
	}

	if suffix == "" || suffix == "B" {
		return valueInt, nil
	}

	multiplicator := int64(0)
	switch suffix {
	case "kB":
		multiplicator = 1000
	case "MB":
		multiplicator = 1000 * 1000
	case "GB":
		multiplicator = 1000 * 1000 * 1000
	case "TB":
		multiplicator = 1000 * 1000 * 1000 * 1000
	case "KiB":
		multiplicator = 1024
	case "MiB":
		multiplicator = 1024 * 1024
	case "GiB":
		multiplicator = 1024 * 1024 * 1024
	case "TiB":
		multiplicator = 1024 * 1024 * 1024 * 1024
	default:
		return -1, fmt.Errorf("Invalid suffix: %q", suffix)
	}

	return handleOverflow(valueInt, multiplicator)
}
