// Package domain define contratos e tipos de domínio da admissão de requests:
// política de janela fixa, entrada de bucket, decisão, store atômico e
// escalonamento de abuso.
//
// Este pacote não depende de net/http nem de implementações concretas.
package domain
