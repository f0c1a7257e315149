package vm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestVM builds a VM whose Config.Print captures every printed line, so
// scenario scripts can assert on output the way an embedder would: by
// calling System.print on the value under test rather than inspecting VM
// internals directly.
func newTestVM() (*VM, *[]string) {
	var lines []string
	v := New(Config{
		Print: func(kind PrintKind, msg string) {
			lines = append(lines, msg)
		},
	})
	return v, &lines
}

func runScript(t *testing.T, source string) []string {
	t.Helper()
	v, lines := newTestVM()
	result := v.Interpret("main", source)
	require.Equal(t, ResultSuccess, result, "script: %s\noutput: %v", source, *lines)
	return *lines
}

// 1. Closures capture by reference.
func TestScenarioClosuresCaptureByReference(t *testing.T) {
	out := runScript(t, `
		var make = Fn.new { |x| Fn.new {
			x = x + 1
			x
		} }
		var f = make.call(10)
		f.call()
		f.call()
		System.print(f.call())
	`)
	require.Len(t, out, 1)
	assert.Equal(t, "13", out[0])
}

// 2. Multiple inheritance field offsets.
func TestScenarioMultipleInheritanceFieldOffsets(t *testing.T) {
	out := runScript(t, `
		class A {
			fields { _a }
			construct new() { _a = 1 }
			getA { _a }
		}
		class B {
			fields { _b }
			construct new() { _b = 2 }
			getB { _b }
		}
		class C is A, B {
			construct new() {
				super.new()
				super(1).new()
			}
		}
		var c = C.new
		System.print(c.getA + c.getB)
	`)
	require.Len(t, out, 1)
	assert.Equal(t, "3", out[0])
}

// 3. Fiber yield passes values both ways.
func TestScenarioFiberYieldBothWays(t *testing.T) {
	out := runScript(t, `
		var g = Fiber.new { |n|
			var x = Fiber.yield(n + 1)
			Fiber.yield(x * 2)
			"done"
		}
		System.print(g.call(10).toString + ":" + g.call(5).toString + ":" + g.call(999))
	`)
	require.Len(t, out, 1)
	assert.Equal(t, "11:10:done", out[0])
}

// 4. Try catches abort.
func TestScenarioTryCatchesAbort(t *testing.T) {
	out := runScript(t, `
		var f = Fiber.new { Fiber.abort("bad") }
		var e = f.try()
		System.print(e)
	`)
	require.Len(t, out, 1)
	assert.Equal(t, "bad", out[0])
}

// 5. Maps preserve values across grow.
func TestScenarioMapsPreserveValuesAcrossGrow(t *testing.T) {
	out := runScript(t, `
		var m = Map.new
		for (k in 0..1001) {
			m[k] = k * k
		}
		var ok = true
		for (k in 0..1001) {
			if (m[k] != k * k) {
				ok = false
			}
		}
		System.print(ok)
		System.print(m.count)
	`)
	require.Len(t, out, 2)
	assert.Equal(t, "true", out[0])
	assert.Equal(t, "1001", out[1])
}

// 6. GC reclaims unreachable; with the collector disabled, it does not.
func TestScenarioGCReclaimsUnreachable(t *testing.T) {
	buildAndDrop := `
		var big = List.new
		for (i in 0..100000) {
			big.add(i.toString)
		}
		big = null
	`

	v, _ := newTestVM()
	before := v.BytesInUse()
	require.Equal(t, ResultSuccess, v.Interpret("main", buildAndDrop))
	afterBuild := v.BytesInUse()
	require.Greater(t, afterBuild, before)

	v.Collect()
	afterCollect := v.BytesInUse()
	assert.Less(t, afterCollect, afterBuild, "collect() should reclaim the dropped list and its strings")

	v2, _ := newTestVM()
	v2.SetCollectorEnabled(false)
	beforeDisabled := v2.BytesInUse()
	require.Equal(t, ResultSuccess, v2.Interpret("main", buildAndDrop))
	afterBuildDisabled := v2.BytesInUse()
	require.Greater(t, afterBuildDisabled, beforeDisabled)

	v2.Collect()
	afterCollectDisabled := v2.BytesInUse()
	assert.Equal(t, afterBuildDisabled, afterCollectDisabled, "collect() must be a no-op while the collector is disabled")
}

func TestCallSignatureFormatsMatchCompilerConvention(t *testing.T) {
	assert.Equal(t, "call", callSignature(0))
	assert.Equal(t, "call(_)", callSignature(1))
	assert.Equal(t, "call(_,_)", callSignature(2))
	assert.True(t, strings.HasPrefix(callSignature(16), "call("))
}
