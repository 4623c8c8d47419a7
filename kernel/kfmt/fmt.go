// Package kfmt implements the kernel's logging primitives: an allocation-free
// Printf, an early ring buffer that captures output before a sink exists and
// the Panic routine that halts the CPU.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	digits          = []byte("0123456789abcdef")

	numFmtBuf [maxBufSize]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer stores Printf output produced before an output sink
	// has been attached.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where Printf sends its output. While it
	// is nil, output is captured by earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and drains
// any data accumulated in the early print buffer into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// Printf provides a minimal Printf implementation that can be safely used
// before the Go allocator is available. It supports the following verbs:
//
//  %s  string or []byte
//  %d  base 10 integer
//  %o  base 8 integer
//  %x  base 16 integer with lower-case letters
//  %t  bool
//  %%  a literal percent sign
//
// An optional decimal width may precede the verb. Strings and base 10 values
// are left-padded with spaces; base 8 and base 16 values are left-padded with
// zeroes.
//
// Arguments are type-switched against the built-in types only; io.Stringer is
// never consulted as that would require the itables to be initialized.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		ch       byte
	)

	for i := 0; i < len(format); i++ {
		if ch = format[i]; ch != '%' {
			writeByte(w, ch)
			continue
		}

		width = 0
	verb:
		for i++; ; i++ {
			if i == len(format) {
				doWrite(w, errNoVerb)
				break
			}

			switch ch = format[i]; {
			case ch == '%':
				writeByte(w, '%')
				break verb
			case ch >= '0' && ch <= '9':
				width = width*10 + int(ch-'0')
			case ch == 's' || ch == 'd' || ch == 'o' || ch == 'x' || ch == 't':
				if argIndex >= len(args) {
					doWrite(w, errMissingArg)
					break verb
				}

				switch ch {
				case 's':
					fmtString(w, args[argIndex], width)
				case 'd':
					fmtInt(w, args[argIndex], 10, width)
				case 'o':
					fmtInt(w, args[argIndex], 8, width)
				case 'x':
					fmtInt(w, args[argIndex], 16, width)
				case 't':
					fmtBool(w, args[argIndex])
				}
				argIndex++
				break verb
			default:
				doWrite(w, errNoVerb)
				break verb
			}
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

// fmtBool prints "true" or "false" for a bool argument.
func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString prints a string or []byte argument left-padded to width.
func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(s))
		// converting the string to a byte slice allocates
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		fmtRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count copies of ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt prints an integer argument in the requested base, left-padded to
// width. Digits are produced right-to-left into numFmtBuf.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		uval uint64
		neg  bool
	)

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		uval, neg = abs(int64(n))
	case int16:
		uval, neg = abs(int64(n))
	case int32:
		uval, neg = abs(int64(n))
	case int64:
		uval, neg = abs(n)
	case int:
		uval, neg = abs(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if width >= maxBufSize {
		width = maxBufSize - 1
	}

	pos := maxBufSize
	for {
		pos--
		numFmtBuf[pos] = digits[uval%base]
		if uval /= base; uval == 0 {
			break
		}
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	// Zero-padded values carry their sign in front of the padding; space
	// padded values carry it right before the first digit.
	if neg && padCh == ' ' {
		pos--
		numFmtBuf[pos] = '-'
	}
	for signLen := boolToInt(neg && padCh == '0'); maxBufSize-pos+signLen < width; {
		pos--
		numFmtBuf[pos] = padCh
	}
	if neg && padCh == '0' {
		pos--
		numFmtBuf[pos] = '-'
	}

	doWrite(w, numFmtBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeByte(w io.Writer, ch byte) {
	singleByte[0] = ch
	doWrite(w, singleByte)
}

// doWrite hides p from the compiler's escape analysis. Without it the call
// through the io.Writer interface makes p escape, which turns every Printf
// argument list into a heap allocation.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		_, _ = w.Write(p)
	} else {
		_, _ = earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
