// Package dsl 提供工作流条件步骤使用的受限布尔表达式语言。
//
// 表达式只能读取 state 与 event 两个绑定，支持比较、逻辑运算、括号、
// 点号路径与字符串下标访问，由递归下降解析为 AST 后解释执行，不做任何动态代码执行。
package dsl
