// Package preview は表示面への描画を担う
//
// プレビュー映像のフレーム、撮影シーケンスのステータス文字列、撮影した写真を
// 画面サイズに合わせて縦横比を保ったまま拡大縮小し、背景色で余白を埋めて表示する。
// 表示面そのものは Display インターフェースで抽象化する。
package preview
