package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectTopLevelFunctionsAndClasses(t *testing.T) {
	src := []byte(`
def test_simple_pass():
    assert 1 + 1 == 2


class TestMath:
    def test_addition(self):
        assert 2 + 2 == 4

    def test_multiplication(self):
        assert 3 * 4 == 12


def helper_function():
    pass


class HelperClass:
    def test_method(self):
        pass
`)
	items, warnings := NewCollector().Collect("/repo/test_example.py", src)
	require.Empty(t, warnings)

	require.Len(t, items, 3)
	assert.Equal(t, "test_simple_pass", items[0].Function)
	assert.Equal(t, "", items[0].Class)
	assert.Equal(t, "TestMath", items[1].Class)
	assert.Equal(t, "test_addition", items[1].Function)
	assert.Equal(t, "TestMath", items[2].Class)
	assert.Equal(t, "test_multiplication", items[2].Function)
}

func TestCollectIgnoresNonMatchingNames(t *testing.T) {
	src := []byte(`
def helper():
    pass

class Helper:
    def test_method(self):
        pass

def setup_module():
    pass
`)
	items, warnings := NewCollector().Collect("/repo/x.py", src)
	assert.Empty(t, warnings)
	assert.Empty(t, items)
}

func TestCollectSkipBareWithReasonAndKeywordReason(t *testing.T) {
	src := []byte(`
@skip
def test_skipped_no_reason():
    assert False


@skip("API is temporarily unavailable")
def test_skipped_with_reason():
    assert False


@skip(reason="Known bug, fix later")
def test_skipped_keyword_reason():
    assert False
`)
	items, warnings := NewCollector().Collect("/repo/test_skip.py", src)
	require.Empty(t, warnings)
	require.Len(t, items, 3)

	assert.True(t, items[0].Markers.Skip)
	assert.Equal(t, "", items[0].Markers.SkipReason)

	assert.True(t, items[1].Markers.Skip)
	assert.Equal(t, "API is temporarily unavailable", items[1].Markers.SkipReason)

	assert.True(t, items[2].Markers.Skip)
	assert.Equal(t, "Known bug, fix later", items[2].Markers.SkipReason)
}

func TestCollectMarkValues(t *testing.T) {
	src := []byte(`
@mark(slow=True)
def test_marked_slow():
    assert True


@mark(group="auth")
def test_marked_group():
    assert True


@mark(group=["auth", "integration"])
def test_marked_multiple_groups():
    assert True


@mark(slow=True, group="integration")
def test_marked_slow_and_group():
    assert True
`)
	items, warnings := NewCollector().Collect("/repo/test_mark.py", src)
	require.Empty(t, warnings)
	require.Len(t, items, 4)

	assert.True(t, items[0].Markers.Values["slow"].Truthy())
	assert.Equal(t, []string{"auth"}, items[1].Markers.Group())
	assert.Equal(t, []string{"auth", "integration"}, items[2].Markers.Group())
	assert.True(t, items[3].Markers.Values["slow"].Truthy())
	assert.Equal(t, []string{"integration"}, items[3].Markers.Group())
}

func TestCollectParallelBareAndWithParens(t *testing.T) {
	src := []byte(`
@parallel()
def test_parallel_safe():
    assert True


@parallel
def test_parallel_no_parens():
    assert True


def test_normal():
    assert True
`)
	items, warnings := NewCollector().Collect("/repo/test_parallel.py", src)
	require.Empty(t, warnings)
	require.Len(t, items, 3)
	assert.True(t, items[0].Markers.Parallel)
	assert.True(t, items[1].Markers.Parallel)
	assert.False(t, items[2].Markers.Parallel)
}

func TestCollectClassLevelParallelInheritedByMethods(t *testing.T) {
	src := []byte(`
@parallel()
class TestParallelClass:
    def test_method_a(self):
        assert True

    def test_method_b(self):
        assert True
`)
	items, warnings := NewCollector().Collect("/repo/test_cls_parallel.py", src)
	require.Empty(t, warnings)
	require.Len(t, items, 2)
	assert.True(t, items[0].Markers.Parallel)
	assert.True(t, items[1].Markers.Parallel)
}

func TestCollectMethodOverridesClassMarker(t *testing.T) {
	src := []byte(`
@mark(group="a")
class TestX:
    @mark(group="b")
    def test_m1(self):
        assert True

    def test_m2(self):
        assert True
`)
	items, warnings := NewCollector().Collect("/repo/test_override.py", src)
	require.Empty(t, warnings)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"b"}, items[0].Markers.Group())
	assert.Equal(t, []string{"a"}, items[1].Markers.Group())
}

func TestCollectMixedClassParallelAndSkip(t *testing.T) {
	src := []byte(`
class TestMixedClass:
    @parallel()
    def test_parallel_method(self):
        assert True

    def test_sequential_method(self):
        assert True

    @skip("Not implemented yet")
    def test_skipped_method(self):
        assert False
`)
	items, warnings := NewCollector().Collect("/repo/test_mixed.py", src)
	require.Empty(t, warnings)
	require.Len(t, items, 3)

	assert.True(t, items[0].Markers.Parallel)
	assert.False(t, items[1].Markers.Parallel)
	assert.False(t, items[1].Markers.Skip)
	assert.True(t, items[2].Markers.Skip)
	assert.Equal(t, "Not implemented yet", items[2].Markers.SkipReason)
}

func TestCollectSetUpTearDownMethodsIgnored(t *testing.T) {
	src := []byte(`
class TestStrings:
    def setUp(self):
        self.greeting = "hello"

    def test_upper(self):
        assert self.greeting.upper() == "HELLO"

    def test_length(self):
        assert len(self.greeting) == 5
`)
	items, warnings := NewCollector().Collect("/repo/test_strings.py", src)
	require.Empty(t, warnings)
	require.Len(t, items, 2)
	assert.Equal(t, "test_upper", items[0].Function)
	assert.Equal(t, "test_length", items[1].Function)
}

func TestCollectUnrecognizedDecoratorIgnored(t *testing.T) {
	src := []byte(`
import functools


@functools.lru_cache
def test_with_unrelated_decorator():
    assert True
`)
	items, warnings := NewCollector().Collect("/repo/test_unrelated.py", src)
	require.Empty(t, warnings)
	require.Len(t, items, 1)
	assert.False(t, items[0].Markers.Skip)
	assert.False(t, items[0].Markers.Parallel)
}

func TestCollectUnsupportedMarkValueShapeWarns(t *testing.T) {
	src := []byte(`
@mark(config={"a": 1})
def test_marked_with_dict():
    assert True
`)
	items, warnings := NewCollector().Collect("/repo/test_bad_mark.py", src)
	require.Len(t, items, 1)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "config")
	assert.Equal(t, "/repo/test_bad_mark.py", warnings[0].File)
}

func TestCollectEmptyContentReturnsNoItemsAndNoWarnings(t *testing.T) {
	items, warnings := NewCollector().Collect("/repo/empty.py", []byte(""))
	assert.Empty(t, items)
	assert.Empty(t, warnings)
}
