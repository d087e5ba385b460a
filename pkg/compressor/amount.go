// Package compressor implements the bit-exact reversible transaction
// encoding used to shrink a transaction before FEC coding: scriptSig
// template stripping, the special-case script compressor, and the
// amount exponent-mantissa codec.
package compressor

import "github.com/pkg/errors"

// ErrAmountOutOfRange names an amount outside the valid satoshi range.
// CompressAmount does not return it: amounts above MaxMoney take the raw
// sentinel encoding like any other non-compact amount.
var ErrAmountOutOfRange = errors.New("compressor: amount out of range")

// MaxMoney is the maximum representable satoshi amount (21e6 BTC).
const MaxMoney = 21_000_000 * 100_000_000

// legacyAmountSentinel is the raw-value escape code used by
// codec_version 0, which collided with a legitimate exponent-mantissa
// output code (see ambiguityFixSentinel).
const legacyAmountSentinel = 24

// ambiguityFixSentinel is the raw-value escape code used from
// codec_version 1 onward, shifted up by one to stop colliding with a
// legitimate (d, e) encoding that also produced code 24.
const ambiguityFixSentinel = 25

func amountSentinel(codecVersion uint8) uint64 {
	if codecVersion >= 1 {
		return ambiguityFixSentinel
	}
	return legacyAmountSentinel
}

// CompressAmount encodes a satoshi amount using the exponent-mantissa
// rule: 0 maps to 0; for a > 0 writable as d*10^(e+1) with a single
// significant digit 1<=d<=9 and 0<=e<=9, the output is 1 + 10*e + d;
// every other value (multi-digit mantissas, amounts with no trailing
// zero at all, or a mantissa/exponent pair too large for the e<=9
// bound) falls back to the raw value, flagged by a version-dependent
// sentinel.
func CompressAmount(amount uint64, codecVersion uint8) (code uint64, raw uint64, isRaw bool) {
	if amount == 0 {
		return 0, 0, false
	}
	if amount <= MaxMoney {
		n := amount
		trailingZeros := 0
		for n%10 == 0 {
			n /= 10
			trailingZeros++
		}
		if trailingZeros >= 1 {
			e := trailingZeros - 1
			d := n % 10
			if n/10 == 0 && d >= 1 && d <= 9 && e <= 9 {
				candidate := uint64(1+10*e) + d
				if candidate != amountSentinel(codecVersion) {
					return candidate, 0, false
				}
			}
		}
	}
	return amountSentinel(codecVersion), amount, true
}

// DecompressAmount is CompressAmount's inverse: given the output code
// (and, if it equals the sentinel, the accompanying raw value), it
// recovers the original amount.
func DecompressAmount(code uint64, raw uint64, codecVersion uint8) uint64 {
	if code == amountSentinel(codecVersion) {
		return raw
	}
	if code == 0 {
		return 0
	}
	x := code - 1
	d := x % 10
	e := x / 10
	n := d
	for i := uint64(0); i <= e; i++ {
		n *= 10
	}
	return n
}
