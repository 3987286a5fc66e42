// Package compiler provides the lexer, the program tree builder, and the NASM
// x86-64 code generator for the eight-instruction tape language.
//
// Pipeline: source → Lex → Build → Generate → NASM assembly text
//
// The tree produced by Build is also what package interp executes.
package compiler
