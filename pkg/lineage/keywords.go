package lineage

import "strings"

// sqlKeywords are reserved words that never name a column.
var sqlKeywords = setOf(
	"all", "and", "any", "array", "as", "asc", "at", "between", "both", "by",
	"case", "cast", "collate", "cross", "current", "day", "days", "desc",
	"distinct", "else", "end", "escape", "except", "exists", "extract",
	"false", "filter", "first", "following", "for", "from", "full", "group",
	"groups", "having", "hour", "hours", "if", "ignore", "ilike", "in",
	"inner", "intersect", "interval", "into", "is", "join", "last", "lateral",
	"leading", "left", "like", "limit", "map", "minute", "minutes", "month",
	"months", "natural", "not", "null", "nulls", "of", "offset", "on", "or",
	"order", "outer", "over", "partition", "preceding", "qualify", "range",
	"recursive", "regexp", "respect", "right", "rlike", "row", "rows",
	"second", "seconds", "select", "similar", "some", "struct", "then",
	"ties", "to", "trailing", "true", "try_cast", "unbounded", "union",
	"unknown", "using", "week", "weeks", "when", "where", "window", "with",
	"within", "year", "years", "zone",
)

// sqlTypes are type names. They are only skipped in cast position and
// before typed literals (DATE '2024-01-01'); elsewhere they name columns.
var sqlTypes = setOf(
	"bigint", "binary", "bit", "blob", "bool", "boolean", "byte", "bytea",
	"char", "character", "date", "datetime", "datetime2", "dec", "decimal",
	"double", "float", "float4", "float8", "hugeint", "int", "int2", "int4",
	"int8", "integer", "json", "jsonb", "long", "money", "nchar", "number",
	"numeric", "nvarchar", "precision", "real", "short", "smallint",
	"string", "text", "time", "timestamp", "timestamp_ltz", "timestamp_ntz",
	"timestamptz", "tinyint", "ubigint", "uinteger", "uuid", "varbinary",
	"varchar", "variant", "varying",
)

// sqlFunctions are built-in function names. They are skipped even when not
// followed by a parenthesis, e.g. CURRENT_DATE.
var sqlFunctions = setOf(
	// aggregates
	"approx_count_distinct", "array_agg", "avg", "bit_and", "bit_or",
	"bool_and", "bool_or", "collect_list", "collect_set", "corr", "count",
	"count_if", "covar_pop", "covar_samp", "every", "first_value",
	"group_concat", "kurtosis", "last_value", "list", "listagg", "max",
	"max_by", "median", "min", "min_by", "mode", "percentile",
	"percentile_approx", "percentile_cont", "percentile_disc", "product",
	"skewness", "std", "stddev", "stddev_pop", "stddev_samp", "string_agg",
	"sum", "var", "var_pop", "var_samp", "variance",
	// window
	"cume_dist", "dense_rank", "lag", "lead", "nth_value", "ntile",
	"percent_rank", "rank", "row_number",
	// null handling and conditionals
	"coalesce", "decode", "greatest", "iff", "ifnull", "iif", "isnull",
	"least", "nullif", "nvl", "nvl2",
	// strings
	"ascii", "btrim", "char_length", "charindex", "chr", "concat",
	"concat_ws", "contains", "endswith", "format", "initcap", "instr",
	"lcase", "left", "len", "length", "locate", "lower", "lpad", "ltrim",
	"md5", "position", "regexp_extract", "regexp_like", "regexp_replace",
	"repeat", "replace", "reverse", "right", "rpad", "rtrim", "sha1", "sha2",
	"split", "split_part", "startswith", "strpos", "substr", "substring",
	"translate", "trim", "ucase", "upper",
	// numbers
	"abs", "ceil", "ceiling", "div", "exp", "floor", "ln", "log", "log10",
	"log2", "mod", "pi", "pow", "power", "rand", "random", "round", "sign",
	"sqrt", "trunc", "truncate",
	// dates and times
	"add_months", "current_date", "current_time", "current_timestamp",
	"date_add", "date_diff", "date_format", "date_part", "date_sub",
	"date_trunc", "dateadd", "datediff", "datename", "datepart", "dayofmonth",
	"dayofweek", "dayofyear", "from_unixtime", "getdate", "getutcdate",
	"last_day", "localtime", "localtimestamp", "make_date", "months_between",
	"now", "quarter", "strftime", "strptime", "sysdate", "to_char",
	"to_date", "to_timestamp", "today", "unix_timestamp", "weekofyear",
	// conversion and misc
	"convert", "hash", "newid", "parse_json", "to_json", "try_convert",
	"uuid_string",
)

func setOf(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// IsKeyword reports whether word is a reserved SQL word (case-insensitive).
func IsKeyword(word string) bool {
	_, ok := sqlKeywords[strings.ToLower(word)]
	return ok
}

// IsTypeName reports whether word is a SQL type name (case-insensitive).
func IsTypeName(word string) bool {
	_, ok := sqlTypes[strings.ToLower(word)]
	return ok
}

// IsBuiltinFunction reports whether word is a known built-in function name
// (case-insensitive).
func IsBuiltinFunction(word string) bool {
	_, ok := sqlFunctions[strings.ToLower(word)]
	return ok
}

// IsReserved reports whether word can never be a column reference. Type
// names are not reserved: date and text are common column names.
func IsReserved(word string) bool {
	w := strings.ToLower(word)
	if _, ok := sqlKeywords[w]; ok {
		return true
	}
	_, ok := sqlFunctions[w]
	return ok
}
