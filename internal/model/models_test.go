package model

import "testing"

func TestSplitFee(t *testing.T) {
	tests := []struct {
		name                                string
		amount                              int64
		operatorBps, creatorBps, reflectBps int
		want                                FeeSplit
	}{
		{"even split", 100, 300, 1000, 1000, FeeSplit{Operator: 3, Creator: 10, Reflection: 10, Seller: 77}},
		{"zero rates", 100, 0, 0, 0, FeeSplit{Seller: 100}},
		{"zero amount", 0, 300, 1000, 1000, FeeSplit{}},
		{"truncation favors seller", 999, 333, 333, 333, FeeSplit{Operator: 33, Creator: 33, Reflection: 33, Seller: 900}},
		{"max rates", 10000, 1000, 1000, 1000, FeeSplit{Operator: 1000, Creator: 1000, Reflection: 1000, Seller: 7000}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitFee(tc.amount, tc.operatorBps, tc.creatorBps, tc.reflectBps)
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
			if sum := got.Operator + got.Creator + got.Reflection + got.Seller; sum != tc.amount {
				t.Fatalf("split sums to %d, want %d", sum, tc.amount)
			}
		})
	}
}
