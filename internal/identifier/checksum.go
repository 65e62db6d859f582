package identifier

// digitsOf converts an all-digit string to its digit values. Returns nil when
// any byte is not an ASCII digit.
func digitsOf(s string) []int {
	d := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return nil
		}
		d[i] = int(c - '0')
	}
	return d
}

func weighted(d []int, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += d[i] * w
	}
	return sum
}

var (
	inn10Weights  = []int{2, 4, 10, 3, 5, 9, 4, 6, 8}
	inn12Weights1 = []int{7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
	inn12Weights2 = []int{3, 7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
	itnWeights    = []int{-1, 5, 7, 9, 4, 6, 10, 5, 7}
)

// ValidINN checks a Russian INN (10 or 12 digits).
func ValidINN(s string) bool {
	d := digitsOf(s)
	switch len(d) {
	case 10:
		return weighted(d, inn10Weights)%11%10 == d[9]
	case 12:
		if weighted(d, inn12Weights1)%11%10 != d[10] {
			return false
		}
		return weighted(d, inn12Weights2)%11%10 == d[11]
	default:
		return false
	}
}

// ValidITN checks a Ukrainian RNOKPP (10 digits).
func ValidITN(s string) bool {
	d := digitsOf(s)
	if len(d) != 10 {
		return false
	}
	sum := weighted(d, itnWeights) % 11
	if sum < 0 {
		sum += 11
	}
	return sum%10 == d[9]
}

// ValidEDRPOU checks a Ukrainian EDRPOU code (8 digits). The weight set
// depends on the code's range; a remainder of 10 triggers a second pass with
// weights shifted by two.
func ValidEDRPOU(s string) bool {
	d := digitsOf(s)
	if len(d) != 8 {
		return false
	}
	value := 0
	for _, x := range d {
		value = value*10 + x
	}

	base := []int{1, 2, 3, 4, 5, 6, 7}
	if value >= 30000000 && value <= 60000000 {
		base = []int{7, 1, 2, 3, 4, 5, 6}
	}

	rem := weighted(d, base) % 11
	if rem == 10 {
		shifted := make([]int, len(base))
		for i, w := range base {
			shifted[i] = w + 2
		}
		rem = weighted(d, shifted) % 11
		if rem == 10 {
			rem = 0
		}
	}
	return rem == d[7]
}

// ValidOGRN checks a Russian OGRN (13 digits) or OGRNIP (15 digits).
func ValidOGRN(s string) bool {
	d := digitsOf(s)
	var mod uint64
	switch len(d) {
	case 13:
		mod = 11
	case 15:
		mod = 13
	default:
		return false
	}
	var prefix uint64
	for _, x := range d[:len(d)-1] {
		prefix = prefix*10 + uint64(x)
	}
	return int(prefix%mod%10) == d[len(d)-1]
}
